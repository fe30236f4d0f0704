package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ehr/hl7-gateway/internal/platform/hl7v2"
)

// Processor files inbound ORM messages as service orders. It implements
// hl7v2.Processor: a nil return acknowledges the message with AA; any error
// acknowledges it with AE. Every inbound message gets a message-log row
// whatever the outcome.
type Processor struct {
	patients PatientRepository
	orders   OrderRepository
	mappings MappingRepository
	logs     MessageLogRepository
	logger   zerolog.Logger
}

func NewProcessor(patients PatientRepository, orders OrderRepository,
	mappings MappingRepository, logs MessageLogRepository, logger zerolog.Logger) *Processor {
	return &Processor{
		patients: patients,
		orders:   orders,
		mappings: mappings,
		logs:     logs,
		logger:   logger,
	}
}

// orderInfo is the small set of ORC/OBR fields the gateway files.
type orderInfo struct {
	placerOrderNumber  string
	fillerOrderNumber  string
	universalServiceID string
	serviceCode        string
	serviceName        string
	requestedAt        string
	practitioner       string
}

func (p *Processor) Process(ctx context.Context, in hl7v2.Inbound) error {
	entry := &MessageLog{
		RawMessage:  in.Raw,
		MessageType: in.MessageType(),
		Status:      LogStatusPending,
	}
	if in.Msg != nil {
		entry.ControlID = in.Msg.ControlID
	}
	// Logging is best effort; a log write failure must not decide the ACK.
	if err := p.logs.Create(ctx, entry); err != nil {
		p.logger.Error().Err(err).Msg("failed to create message log entry")
	}

	if in.Msg == nil {
		p.finish(ctx, entry, LogStatusFailed, "", "message could not be parsed")
		return errors.New("orders: message could not be parsed")
	}

	if !strings.HasPrefix(in.Msg.Type, "ORM") {
		p.logger.Info().Str("type", in.Msg.Type).Msg("ignoring non-ORM message")
		p.finish(ctx, entry, LogStatusProcessed, "ignored non-ORM message", "")
		return fmt.Errorf("orders: unsupported message type %q", in.Msg.Type)
	}

	patient, err := p.findPatient(ctx, in.Msg)
	if err != nil {
		p.finish(ctx, entry, LogStatusFailed, "", "patient not found")
		return fmt.Errorf("orders: resolve patient: %w", err)
	}
	entry.PatientID = &patient.ID

	info := extractOrder(in.Msg)
	order, err := p.createOrder(ctx, patient, info)
	if err != nil {
		p.finish(ctx, entry, LogStatusFailed, "", err.Error())
		return fmt.Errorf("orders: create order: %w", err)
	}

	p.logger.Info().
		Str("order_id", order.ID.String()).
		Str("patient", patient.Identifier).
		Str("service_code", info.serviceCode).
		Msg("service order created")
	p.finish(ctx, entry, LogStatusProcessed, fmt.Sprintf("order %s created", order.ID), "")
	return nil
}

// findPatient resolves the ordered-for patient: PID-3 identifier first,
// then name plus date of birth.
func (p *Processor) findPatient(ctx context.Context, msg *hl7v2.Message) (*Patient, error) {
	if identifier := msg.PatientIdentifier(); identifier != "" {
		patient, err := p.patients.GetByIdentifier(ctx, identifier)
		if err == nil {
			return patient, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	family, given := msg.PatientName()
	if family == "" && given == "" {
		return nil, ErrNotFound
	}
	return p.patients.FindByNameDOB(ctx, family, given, msg.DateOfBirth())
}

// extractOrder pulls order details from the ORC and OBR segments. Missing
// segments or fields simply read as empty.
func extractOrder(msg *hl7v2.Message) orderInfo {
	var info orderInfo

	if orc := msg.GetSegment("ORC"); orc != nil {
		info.placerOrderNumber = orc.GetComponent(2, 1)
		info.fillerOrderNumber = orc.GetComponent(3, 1)
	}

	if obr := msg.GetSegment("OBR"); obr != nil {
		info.universalServiceID = obr.GetField(4)
		info.serviceCode = obr.GetComponent(4, 1)
		info.serviceName = obr.GetComponent(4, 2)
		info.requestedAt = obr.GetField(7)
		info.practitioner = obr.GetComponent(16, 1)
	}

	return info
}

// createOrder builds and persists the order, preferring a configured
// service-code mapping over whatever the sender transmitted.
func (p *Processor) createOrder(ctx context.Context, patient *Patient, info orderInfo) (*Order, error) {
	order := &Order{
		PatientID:         patient.ID,
		PlacerOrderNumber: info.placerOrderNumber,
		FillerOrderNumber: info.fillerOrderNumber,
		ServiceCode:       info.serviceCode,
		ServiceName:       info.serviceName,
		Practitioner:      info.practitioner,
		RequestedAt:       info.requestedAt,
		Status:            "active",
	}

	mapping, err := p.mappings.GetByServiceCode(ctx, info.serviceCode)
	switch {
	case err == nil:
		order.TemplateType = mapping.TemplateType
		order.TemplateName = mapping.TemplateName
	case errors.Is(err, ErrNotFound):
		order.TemplateType = DefaultTemplateType
		order.TemplateName = info.serviceName
		if order.TemplateName == "" {
			order.TemplateName = info.serviceCode
		}
	default:
		return nil, fmt.Errorf("lookup service mapping: %w", err)
	}

	var notes []string
	if info.placerOrderNumber != "" {
		notes = append(notes, "Placer: "+info.placerOrderNumber)
	}
	if info.fillerOrderNumber != "" {
		notes = append(notes, "Filler: "+info.fillerOrderNumber)
	}
	notes = append(notes, "Imported via HL7 ORM - "+info.universalServiceID)
	order.Note = strings.Join(notes, " | ")

	if err := p.orders.Create(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

// finish updates the message-log row with the terminal status.
func (p *Processor) finish(ctx context.Context, entry *MessageLog, status, note, errText string) {
	entry.Status = status
	entry.Note = note
	entry.Error = errText
	if err := p.logs.Update(ctx, entry); err != nil {
		p.logger.Error().Err(err).Msg("failed to update message log entry")
	}
}
