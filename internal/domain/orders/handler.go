package orders

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/hl7-gateway/pkg/pagination"
)

// Handler exposes read access to processed orders and the message log.
type Handler struct {
	orders OrderRepository
	logs   MessageLogRepository
}

func NewHandler(orders OrderRepository, logs MessageLogRepository) *Handler {
	return &Handler{orders: orders, logs: logs}
}

// RegisterRoutes registers the order endpoints on the given group.
//
//	GET /hl7v2/logs       - list inbound message log entries
//	GET /orders/:id       - fetch one order
//	GET /orders           - list orders for ?patient_id=
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/hl7v2/logs", h.ListLogs)
	g.GET("/orders/:id", h.GetOrder)
	g.GET("/orders", h.ListOrders)
}

func (h *Handler) ListLogs(c echo.Context) error {
	p := pagination.FromContext(c)
	logs, total, err := h.logs.List(c.Request().Context(), p.Limit, p.Offset)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to list message logs",
		})
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(logs, total, p.Limit, p.Offset))
}

func (h *Handler) GetOrder(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid order id"})
	}

	order, err := h.orders.GetByID(c.Request().Context(), id)
	if errors.Is(err, ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "order not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to fetch order"})
	}
	return c.JSON(http.StatusOK, orderJSON(order))
}

func (h *Handler) ListOrders(c echo.Context) error {
	patientID, err := uuid.Parse(c.QueryParam("patient_id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "patient_id is required"})
	}

	p := pagination.FromContext(c)
	list, total, err := h.orders.ListByPatient(c.Request().Context(), patientID, p.Limit, p.Offset)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list orders"})
	}

	out := make([]map[string]interface{}, len(list))
	for i, o := range list {
		out[i] = orderJSON(o)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(out, total, p.Limit, p.Offset))
}

func orderJSON(o *Order) map[string]interface{} {
	return map[string]interface{}{
		"id":                  o.ID,
		"patient_id":          o.PatientID,
		"placer_order_number": o.PlacerOrderNumber,
		"filler_order_number": o.FillerOrderNumber,
		"service_code":        o.ServiceCode,
		"service_name":        o.ServiceName,
		"template_type":       o.TemplateType,
		"template_name":       o.TemplateName,
		"practitioner":        o.Practitioner,
		"requested_at":        o.RequestedAt,
		"status":              o.Status,
		"note":                o.Note,
		"created_at":          o.CreatedAt,
	}
}
