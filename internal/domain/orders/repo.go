package orders

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned by repositories when no row matches.
var ErrNotFound = errors.New("orders: not found")

type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByIdentifier(ctx context.Context, identifier string) (*Patient, error)
	// FindByNameDOB is the fallback lookup when PID-3 is absent: exact
	// family/given name match plus date of birth as transmitted.
	FindByNameDOB(ctx context.Context, family, given, birthDate string) (*Patient, error)
}

type OrderRepository interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Order, int, error)
}

type MappingRepository interface {
	GetByServiceCode(ctx context.Context, code string) (*ServiceCodeMapping, error)
}

type MessageLogRepository interface {
	Create(ctx context.Context, m *MessageLog) error
	Update(ctx context.Context, m *MessageLog) error
	List(ctx context.Context, limit, offset int) ([]*MessageLog, int, error)
}
