package orders

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// =========== Patient Repository ===========

type patientRepoPG struct{ pool *pgxpool.Pool }

func NewPatientRepoPG(pool *pgxpool.Pool) PatientRepository {
	return &patientRepoPG{pool: pool}
}

const patientCols = `id, identifier, family_name, given_name, birth_date, created_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.Identifier, &p.FamilyName, &p.GivenName, &p.BirthDate, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &p, err
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO patient (id, identifier, family_name, given_name, birth_date)
		VALUES ($1,$2,$3,$4,$5)`,
		p.ID, p.Identifier, p.FamilyName, p.GivenName, p.BirthDate)
	return err
}

func (r *patientRepoPG) GetByIdentifier(ctx context.Context, identifier string) (*Patient, error) {
	return scanPatient(r.pool.QueryRow(ctx,
		`SELECT `+patientCols+` FROM patient WHERE identifier = $1`, identifier))
}

func (r *patientRepoPG) FindByNameDOB(ctx context.Context, family, given, birthDate string) (*Patient, error) {
	return scanPatient(r.pool.QueryRow(ctx, `
		SELECT `+patientCols+` FROM patient
		WHERE family_name = $1 AND given_name = $2 AND birth_date = $3
		ORDER BY created_at LIMIT 1`,
		family, given, birthDate))
}

// =========== Order Repository ===========

type orderRepoPG struct{ pool *pgxpool.Pool }

func NewOrderRepoPG(pool *pgxpool.Pool) OrderRepository {
	return &orderRepoPG{pool: pool}
}

const orderCols = `id, patient_id, placer_order_number, filler_order_number,
	service_code, service_name, template_type, template_name,
	practitioner, requested_at, status, note, created_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.PatientID, &o.PlacerOrderNumber, &o.FillerOrderNumber,
		&o.ServiceCode, &o.ServiceName, &o.TemplateType, &o.TemplateName,
		&o.Practitioner, &o.RequestedAt, &o.Status, &o.Note, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &o, err
}

func (r *orderRepoPG) Create(ctx context.Context, o *Order) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	if o.Status == "" {
		o.Status = "active"
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO service_order (id, patient_id, placer_order_number, filler_order_number,
			service_code, service_name, template_type, template_name,
			practitioner, requested_at, status, note)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		o.ID, o.PatientID, o.PlacerOrderNumber, o.FillerOrderNumber,
		o.ServiceCode, o.ServiceName, o.TemplateType, o.TemplateName,
		o.Practitioner, o.RequestedAt, o.Status, o.Note)
	return err
}

func (r *orderRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	return scanOrder(r.pool.QueryRow(ctx,
		`SELECT `+orderCols+` FROM service_order WHERE id = $1`, id))
}

func (r *orderRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Order, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM service_order WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+orderCols+` FROM service_order
		WHERE patient_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, o)
	}
	return out, total, rows.Err()
}

// =========== Service Code Mapping Repository ===========

type mappingRepoPG struct{ pool *pgxpool.Pool }

func NewMappingRepoPG(pool *pgxpool.Pool) MappingRepository {
	return &mappingRepoPG{pool: pool}
}

func (r *mappingRepoPG) GetByServiceCode(ctx context.Context, code string) (*ServiceCodeMapping, error) {
	var m ServiceCodeMapping
	err := r.pool.QueryRow(ctx, `
		SELECT id, service_code, template_type, template_name
		FROM hl7_service_code_mapping WHERE service_code = $1`, code).
		Scan(&m.ID, &m.ServiceCode, &m.TemplateType, &m.TemplateName)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &m, err
}

// =========== Message Log Repository ===========

type messageLogRepoPG struct{ pool *pgxpool.Pool }

func NewMessageLogRepoPG(pool *pgxpool.Pool) MessageLogRepository {
	return &messageLogRepoPG{pool: pool}
}

const logCols = `id, raw_message, message_type, control_id, patient_id,
	status, note, error, created_at, updated_at`

func scanLog(row pgx.Row) (*MessageLog, error) {
	var m MessageLog
	err := row.Scan(&m.ID, &m.RawMessage, &m.MessageType, &m.ControlID, &m.PatientID,
		&m.Status, &m.Note, &m.Error, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &m, err
}

func (r *messageLogRepoPG) Create(ctx context.Context, m *MessageLog) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.Status == "" {
		m.Status = LogStatusPending
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO hl7_message_log (id, raw_message, message_type, control_id, patient_id,
			status, note, error)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		m.ID, m.RawMessage, m.MessageType, m.ControlID, m.PatientID,
		m.Status, m.Note, m.Error)
	return err
}

func (r *messageLogRepoPG) Update(ctx context.Context, m *MessageLog) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE hl7_message_log
		SET patient_id = $2, status = $3, note = $4, error = $5, updated_at = NOW()
		WHERE id = $1`,
		m.ID, m.PatientID, m.Status, m.Note, m.Error)
	return err
}

func (r *messageLogRepoPG) List(ctx context.Context, limit, offset int) ([]*MessageLog, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM hl7_message_log`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+logCols+` FROM hl7_message_log
		ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*MessageLog
	for rows.Next() {
		m, err := scanLog(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, m)
	}
	return out, total, rows.Err()
}
