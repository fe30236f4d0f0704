package hl7v2

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Handler provides HTTP endpoints for HL7v2 message parsing and ingestion.
// Ingestion runs the same Processor the MLLP listener uses, so a message
// POSTed over HTTP is handled exactly like one received on the wire.
type Handler struct {
	proc Processor
}

// NewHandler creates a new HL7v2 handler dispatching to proc.
func NewHandler(proc Processor) *Handler {
	return &Handler{proc: proc}
}

// RegisterRoutes registers HL7v2 endpoints on the provided route group.
//
//	POST /hl7v2/parse     - Parse HL7v2 message to JSON
//	POST /hl7v2/messages  - Ingest HL7v2 message, returns the ACK code
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/hl7v2/parse", h.ParseMessage)
	g.POST("/hl7v2/messages", h.IngestMessage)
}

// segmentJSON is the JSON representation of a parsed segment.
type segmentJSON struct {
	Name   string      `json:"name"`
	Fields []fieldJSON `json:"fields"`
}

// fieldJSON is the JSON representation of a parsed field.
type fieldJSON struct {
	Value      string   `json:"value"`
	Components []string `json:"components,omitempty"`
}

// ParseMessage handles POST /hl7v2/parse.
// It reads raw HL7v2 from the request body and returns parsed JSON.
func (h *Handler) ParseMessage(c echo.Context) error {
	body, err := readBody(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	msg, err := Parse(body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "failed to parse HL7v2 message: " + err.Error(),
		})
	}

	segments := make([]segmentJSON, len(msg.Segments))
	for i, seg := range msg.Segments {
		fields := make([]fieldJSON, len(seg.Fields))
		for j, f := range seg.Fields {
			fields[j] = fieldJSON{
				Value:      f.Value,
				Components: f.Components,
			}
		}
		segments[i] = segmentJSON{
			Name:   seg.Name,
			Fields: fields,
		}
	}

	result := map[string]interface{}{
		"type":         msg.Type,
		"controlId":    msg.ControlID,
		"version":      msg.Version,
		"timestamp":    msg.Timestamp.Format("2006-01-02T15:04:05Z"),
		"sendingApp":   msg.SendingApp,
		"sendingFac":   msg.SendingFac,
		"receivingApp": msg.ReceivingApp,
		"receivingFac": msg.ReceivingFac,
		"segments":     segments,
	}

	return c.JSON(http.StatusOK, result)
}

// IngestMessage handles POST /hl7v2/messages.
// The raw HL7v2 body is dispatched through the processor and the resulting
// ACK code is returned as JSON. Like the MLLP listener, an unparseable
// message is still dispatched: the processor decides the outcome.
func (h *Handler) IngestMessage(c echo.Context) error {
	body, err := readBody(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	raw := string(body)
	in := Inbound{Raw: raw, Remote: c.RealIP()}
	if msg, perr := Parse(body); perr == nil {
		in.Msg = msg
	}

	procErr := h.proc.Process(c.Request().Context(), in)
	code := CodeFor(procErr == nil)

	resp := map[string]interface{}{
		"ack_code":     string(code),
		"message_type": in.MessageType(),
	}
	if in.Msg != nil {
		resp["control_id"] = in.Msg.ControlID
	}
	if procErr != nil {
		resp["error"] = procErr.Error()
	}
	return c.JSON(http.StatusOK, resp)
}

func readBody(c echo.Context) ([]byte, error) {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return nil, errors.New("failed to read request body")
	}
	if len(body) == 0 {
		return nil, errors.New("request body is empty")
	}
	return body, nil
}
