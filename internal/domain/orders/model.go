// Package orders is the order-processing callback behind the MLLP listener.
// It turns inbound ORM messages into persisted service orders: patient
// lookup from the PID segment, order detail extraction from ORC/OBR,
// service-code mapping, and a message log row for every inbound message.
package orders

import (
	"time"

	"github.com/google/uuid"
)

// Patient is the minimal demographic record orders are filed against.
type Patient struct {
	ID         uuid.UUID
	Identifier string // MRN as transmitted in PID-3.1
	FamilyName string
	GivenName  string
	BirthDate  string // HL7 date as transmitted (YYYYMMDD)
	CreatedAt  time.Time
}

// Order is a service order created from an inbound ORM message. It is the
// gateway's analogue of a FHIR ServiceRequest.
type Order struct {
	ID                uuid.UUID
	PatientID         uuid.UUID
	PlacerOrderNumber string // ORC-2
	FillerOrderNumber string // ORC-3
	ServiceCode       string // OBR-4.1
	ServiceName       string // OBR-4.2
	TemplateType      string
	TemplateName      string
	Practitioner      string // OBR-16.1 when transmitted
	RequestedAt       string // OBR-7 as transmitted
	Status            string
	Note              string
	CreatedAt         time.Time
}

// ServiceCodeMapping maps a transmitted service code to the order template
// the embedding application files it under.
type ServiceCodeMapping struct {
	ID           uuid.UUID
	ServiceCode  string
	TemplateType string
	TemplateName string
}

// Message log statuses.
const (
	LogStatusPending   = "Pending"
	LogStatusProcessed = "Processed"
	LogStatusFailed    = "Failed"
)

// MessageLog is one inbound HL7 message recorded for audit and replay.
type MessageLog struct {
	ID          uuid.UUID  `json:"id"`
	RawMessage  string     `json:"raw_message"`
	MessageType string     `json:"message_type"`
	ControlID   string     `json:"control_id"`
	PatientID   *uuid.UUID `json:"patient_id,omitempty"`
	Status      string     `json:"status"`
	Note        string     `json:"note,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// DefaultTemplateType is used when no service-code mapping exists.
const DefaultTemplateType = "Lab Test Template"
