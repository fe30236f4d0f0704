package orders

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func setupHandler(orders *fakeOrderRepo, logs *fakeLogRepo) *echo.Echo {
	e := echo.New()
	h := NewHandler(orders, logs)
	h.RegisterRoutes(e.Group("/api/v1"))
	return e
}

func TestListLogs(t *testing.T) {
	logs := &fakeLogRepo{entries: []*MessageLog{
		{ID: uuid.New(), MessageType: "ORM^O01", ControlID: "MSG1", Status: LogStatusProcessed},
		{ID: uuid.New(), MessageType: "ADT^A01", ControlID: "MSG2", Status: LogStatusFailed},
	}}
	e := setupHandler(&fakeOrderRepo{}, logs)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/hl7v2/logs", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Data  []MessageLog `json:"data"`
		Total int          `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Total != 2 || len(resp.Data) != 2 {
		t.Fatalf("expected 2 entries, got total=%d len=%d", resp.Total, len(resp.Data))
	}
	if resp.Data[0].ControlID != "MSG1" {
		t.Errorf("unexpected first entry: %+v", resp.Data[0])
	}
}

func TestGetOrder(t *testing.T) {
	order := &Order{ID: uuid.New(), PatientID: uuid.New(), ServiceCode: "CBC", Status: "active"}
	e := setupHandler(&fakeOrderRepo{created: []*Order{order}}, &fakeLogRepo{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/"+order.ID.String(), nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if body["service_code"] != "CBC" {
		t.Errorf("expected service_code CBC, got %v", body["service_code"])
	}
}

func TestGetOrder_NotFound(t *testing.T) {
	e := setupHandler(&fakeOrderRepo{}, &fakeLogRepo{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/"+uuid.NewString(), nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestGetOrder_InvalidID(t *testing.T) {
	e := setupHandler(&fakeOrderRepo{}, &fakeLogRepo{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/not-a-uuid", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestListOrders_ByPatient(t *testing.T) {
	patientID := uuid.New()
	orders := &fakeOrderRepo{created: []*Order{
		{ID: uuid.New(), PatientID: patientID, ServiceCode: "CBC"},
		{ID: uuid.New(), PatientID: uuid.New(), ServiceCode: "LIPID"},
	}}
	e := setupHandler(orders, &fakeLogRepo{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders?patient_id="+patientID.String(), nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Data  []map[string]interface{} `json:"data"`
		Total int                      `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Total != 1 || len(resp.Data) != 1 {
		t.Fatalf("expected 1 order, got total=%d len=%d", resp.Total, len(resp.Data))
	}
	if resp.Data[0]["service_code"] != "CBC" {
		t.Errorf("unexpected order: %+v", resp.Data[0])
	}
}

func TestListOrders_MissingPatientID(t *testing.T) {
	e := setupHandler(&fakeOrderRepo{}, &fakeLogRepo{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
