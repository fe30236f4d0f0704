package orders

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/hl7-gateway/internal/platform/hl7v2"
)

const testORM = "MSH|^~\\&|SENDER|SENDER_FAC|RECEIVER|RECEIVER_FAC|20251105||ORM^O01|MSGTEST1|P|2.3\r" +
	"PID|1||12345^^^MRN||Doe^John||19800101|M\r" +
	"ORC|NW|ORD0001||||\r" +
	"OBR|1|ORD0001||CBC^Complete Blood Count^L|||20251105\r"

// =========== Fakes ===========

type fakePatientRepo struct {
	byIdentifier map[string]*Patient
	byName       map[string]*Patient // key: family|given|dob
}

func (f *fakePatientRepo) Create(_ context.Context, p *Patient) error {
	if f.byIdentifier == nil {
		f.byIdentifier = map[string]*Patient{}
	}
	f.byIdentifier[p.Identifier] = p
	return nil
}

func (f *fakePatientRepo) GetByIdentifier(_ context.Context, identifier string) (*Patient, error) {
	if p, ok := f.byIdentifier[identifier]; ok {
		return p, nil
	}
	return nil, ErrNotFound
}

func (f *fakePatientRepo) FindByNameDOB(_ context.Context, family, given, dob string) (*Patient, error) {
	if p, ok := f.byName[family+"|"+given+"|"+dob]; ok {
		return p, nil
	}
	return nil, ErrNotFound
}

type fakeOrderRepo struct {
	created []*Order
	err     error
}

func (f *fakeOrderRepo) Create(_ context.Context, o *Order) error {
	if f.err != nil {
		return f.err
	}
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	f.created = append(f.created, o)
	return nil
}

func (f *fakeOrderRepo) GetByID(_ context.Context, id uuid.UUID) (*Order, error) {
	for _, o := range f.created {
		if o.ID == id {
			return o, nil
		}
	}
	return nil, ErrNotFound
}

func (f *fakeOrderRepo) ListByPatient(_ context.Context, patientID uuid.UUID, _, _ int) ([]*Order, int, error) {
	var out []*Order
	for _, o := range f.created {
		if o.PatientID == patientID {
			out = append(out, o)
		}
	}
	return out, len(out), nil
}

type fakeMappingRepo struct {
	mappings map[string]*ServiceCodeMapping
}

func (f *fakeMappingRepo) GetByServiceCode(_ context.Context, code string) (*ServiceCodeMapping, error) {
	if m, ok := f.mappings[code]; ok {
		return m, nil
	}
	return nil, ErrNotFound
}

type fakeLogRepo struct {
	entries []*MessageLog
}

func (f *fakeLogRepo) Create(_ context.Context, m *MessageLog) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	f.entries = append(f.entries, m)
	return nil
}

func (f *fakeLogRepo) Update(_ context.Context, m *MessageLog) error {
	for i, e := range f.entries {
		if e.ID == m.ID {
			f.entries[i] = m
			return nil
		}
	}
	return ErrNotFound
}

func (f *fakeLogRepo) List(_ context.Context, _, _ int) ([]*MessageLog, int, error) {
	return f.entries, len(f.entries), nil
}

// =========== Helpers ===========

func newTestProcessor(patients *fakePatientRepo, orders *fakeOrderRepo,
	mappings *fakeMappingRepo, logs *fakeLogRepo) *Processor {
	if patients == nil {
		patients = &fakePatientRepo{}
	}
	if orders == nil {
		orders = &fakeOrderRepo{}
	}
	if mappings == nil {
		mappings = &fakeMappingRepo{}
	}
	if logs == nil {
		logs = &fakeLogRepo{}
	}
	return NewProcessor(patients, orders, mappings, logs, zerolog.Nop())
}

func inboundFrom(t *testing.T, raw string) hl7v2.Inbound {
	t.Helper()
	msg, err := hl7v2.Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return hl7v2.Inbound{Raw: raw, Msg: msg, Remote: "test"}
}

func knownPatient() (*fakePatientRepo, *Patient) {
	p := &Patient{ID: uuid.New(), Identifier: "12345", FamilyName: "Doe", GivenName: "John", BirthDate: "19800101"}
	return &fakePatientRepo{byIdentifier: map[string]*Patient{"12345": p}}, p
}

// =========== Tests ===========

func TestProcess_ORMCreatesOrder(t *testing.T) {
	patients, patient := knownPatient()
	orderRepo := &fakeOrderRepo{}
	logRepo := &fakeLogRepo{}
	p := newTestProcessor(patients, orderRepo, nil, logRepo)

	if err := p.Process(context.Background(), inboundFrom(t, testORM)); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if len(orderRepo.created) != 1 {
		t.Fatalf("expected 1 order, got %d", len(orderRepo.created))
	}
	order := orderRepo.created[0]
	if order.PatientID != patient.ID {
		t.Error("order not linked to matched patient")
	}
	if order.ServiceCode != "CBC" || order.ServiceName != "Complete Blood Count" {
		t.Errorf("service fields: %q/%q", order.ServiceCode, order.ServiceName)
	}
	if order.PlacerOrderNumber != "ORD0001" {
		t.Errorf("placer order number: %q", order.PlacerOrderNumber)
	}
	if order.TemplateType != DefaultTemplateType || order.TemplateName != "Complete Blood Count" {
		t.Errorf("template defaults: %q/%q", order.TemplateType, order.TemplateName)
	}
	if !strings.Contains(order.Note, "Placer: ORD0001") {
		t.Errorf("note missing placer reference: %q", order.Note)
	}

	if len(logRepo.entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(logRepo.entries))
	}
	entry := logRepo.entries[0]
	if entry.Status != LogStatusProcessed {
		t.Errorf("expected Processed log, got %q", entry.Status)
	}
	if entry.ControlID != "MSGTEST1" {
		t.Errorf("expected control ID in log, got %q", entry.ControlID)
	}
	if entry.PatientID == nil || *entry.PatientID != patient.ID {
		t.Error("log entry not linked to patient")
	}
}

func TestProcess_ServiceCodeMappingPreferred(t *testing.T) {
	patients, _ := knownPatient()
	orderRepo := &fakeOrderRepo{}
	mappings := &fakeMappingRepo{mappings: map[string]*ServiceCodeMapping{
		"CBC": {ID: uuid.New(), ServiceCode: "CBC", TemplateType: "Imaging Template", TemplateName: "CBC Panel"},
	}}
	p := newTestProcessor(patients, orderRepo, mappings, nil)

	if err := p.Process(context.Background(), inboundFrom(t, testORM)); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	order := orderRepo.created[0]
	if order.TemplateType != "Imaging Template" || order.TemplateName != "CBC Panel" {
		t.Errorf("mapping not applied: %q/%q", order.TemplateType, order.TemplateName)
	}
}

func TestProcess_NonORMRejected(t *testing.T) {
	raw := strings.Replace(testORM, "ORM^O01", "ADT^A01", 1)
	logRepo := &fakeLogRepo{}
	orderRepo := &fakeOrderRepo{}
	p := newTestProcessor(nil, orderRepo, nil, logRepo)

	err := p.Process(context.Background(), inboundFrom(t, raw))
	if err == nil {
		t.Fatal("expected error for non-ORM message")
	}
	if len(orderRepo.created) != 0 {
		t.Error("non-ORM message must not create orders")
	}
	// Mirrors the log bookkeeping: the ignore is recorded as handled.
	if logRepo.entries[0].Status != LogStatusProcessed || logRepo.entries[0].Note == "" {
		t.Errorf("expected Processed log with note, got %+v", logRepo.entries[0])
	}
}

func TestProcess_UnknownPatientFails(t *testing.T) {
	logRepo := &fakeLogRepo{}
	p := newTestProcessor(&fakePatientRepo{}, nil, nil, logRepo)

	err := p.Process(context.Background(), inboundFrom(t, testORM))
	if err == nil {
		t.Fatal("expected error for unknown patient")
	}
	if logRepo.entries[0].Status != LogStatusFailed {
		t.Errorf("expected Failed log, got %q", logRepo.entries[0].Status)
	}
}

func TestProcess_NameDOBFallback(t *testing.T) {
	patient := &Patient{ID: uuid.New(), Identifier: "OTHER", FamilyName: "Doe", GivenName: "John", BirthDate: "19800101"}
	patients := &fakePatientRepo{
		byName: map[string]*Patient{"Doe|John|19800101": patient},
	}
	orderRepo := &fakeOrderRepo{}
	p := newTestProcessor(patients, orderRepo, nil, nil)

	if err := p.Process(context.Background(), inboundFrom(t, testORM)); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if orderRepo.created[0].PatientID != patient.ID {
		t.Error("fallback lookup did not match patient")
	}
}

func TestProcess_UnparseableMessageFails(t *testing.T) {
	logRepo := &fakeLogRepo{}
	p := newTestProcessor(nil, nil, nil, logRepo)

	err := p.Process(context.Background(), hl7v2.Inbound{Raw: "GARBAGE", Remote: "test"})
	if err == nil {
		t.Fatal("expected error for unparseable message")
	}
	if logRepo.entries[0].Status != LogStatusFailed {
		t.Errorf("expected Failed log, got %q", logRepo.entries[0].Status)
	}
	if logRepo.entries[0].RawMessage != "GARBAGE" {
		t.Error("raw text must be logged even when unparseable")
	}
}

func TestProcess_OrderCreateFailureFails(t *testing.T) {
	patients, _ := knownPatient()
	orderRepo := &fakeOrderRepo{err: errors.New("db down")}
	logRepo := &fakeLogRepo{}
	p := newTestProcessor(patients, orderRepo, nil, logRepo)

	err := p.Process(context.Background(), inboundFrom(t, testORM))
	if err == nil {
		t.Fatal("expected error when order insert fails")
	}
	if logRepo.entries[0].Status != LogStatusFailed {
		t.Errorf("expected Failed log, got %q", logRepo.entries[0].Status)
	}
}

func TestExtractOrder_MissingSegments(t *testing.T) {
	msg, err := hl7v2.Parse([]byte("MSH|^~\\&|A|B|C|D|20240101||ORM^O01|X|P|2.3\rPID|1||12345"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	info := extractOrder(msg)
	if info.serviceCode != "" || info.placerOrderNumber != "" {
		t.Errorf("expected empty order info, got %+v", info)
	}
}
