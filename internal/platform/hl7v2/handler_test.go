package hl7v2

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

// =========== Handler Tests ===========

func TestHandler_ParseMessage(t *testing.T) {
	h := NewHandler(ProcessorFunc(func(context.Context, Inbound) error { return nil }))
	e := echo.New()

	body := "MSH|^~\\&|SendingApp|SendingFac|ReceivingApp|ReceivingFac|20240115143025||ADT^A01|MSG00001|P|2.5.1\rPID|1||MRN12345||Doe^John||19800515|M"

	req := httptest.NewRequest(http.MethodPost, "/api/v1/hl7v2/parse", strings.NewReader(body))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.ParseMessage(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse JSON response: %v", err)
	}

	if result["type"] != "ADT^A01" {
		t.Errorf("expected type 'ADT^A01', got %v", result["type"])
	}
	if result["controlId"] != "MSG00001" {
		t.Errorf("expected controlId 'MSG00001', got %v", result["controlId"])
	}
	if result["version"] != "2.5.1" {
		t.Errorf("expected version '2.5.1', got %v", result["version"])
	}

	segments, ok := result["segments"].([]interface{})
	if !ok {
		t.Fatal("expected segments array in response")
	}
	if len(segments) != 2 {
		t.Errorf("expected 2 segments, got %d", len(segments))
	}
}

func TestHandler_ParseMessage_Invalid(t *testing.T) {
	h := NewHandler(ProcessorFunc(func(context.Context, Inbound) error { return nil }))
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/hl7v2/parse", strings.NewReader("this is not a valid hl7 message"))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.ParseMessage(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandler_ParseMessage_EmptyBody(t *testing.T) {
	h := NewHandler(ProcessorFunc(func(context.Context, Inbound) error { return nil }))
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/hl7v2/parse", strings.NewReader(""))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.ParseMessage(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandler_IngestMessage_Accepted(t *testing.T) {
	var got Inbound
	h := NewHandler(ProcessorFunc(func(_ context.Context, in Inbound) error {
		got = in
		return nil
	}))
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/hl7v2/messages", strings.NewReader(testORM))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.IngestMessage(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var result map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse JSON response: %v", err)
	}
	if result["ack_code"] != "AA" {
		t.Errorf("expected ack_code AA, got %v", result["ack_code"])
	}
	if result["message_type"] != "ORM^O01" {
		t.Errorf("expected message_type ORM^O01, got %v", result["message_type"])
	}

	if got.Msg == nil {
		t.Fatal("processor should have received the parsed message")
	}
	if got.Raw != testORM {
		t.Error("processor should have received the raw text unchanged")
	}
}

func TestHandler_IngestMessage_Rejected(t *testing.T) {
	h := NewHandler(ProcessorFunc(func(context.Context, Inbound) error {
		return errors.New("downstream rejected")
	}))
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/hl7v2/messages", strings.NewReader(testORM))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.IngestMessage(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse JSON response: %v", err)
	}
	if result["ack_code"] != "AE" {
		t.Errorf("expected ack_code AE, got %v", result["ack_code"])
	}
	if result["error"] != "downstream rejected" {
		t.Errorf("expected error in response, got %v", result["error"])
	}
}

func TestHandler_IngestMessage_UnparseableStillDispatched(t *testing.T) {
	dispatched := false
	h := NewHandler(ProcessorFunc(func(_ context.Context, in Inbound) error {
		dispatched = true
		if in.Msg != nil {
			t.Error("expected nil Msg for unparseable input")
		}
		return errors.New("cannot handle")
	}))
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/hl7v2/messages", strings.NewReader("GARBAGE"))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.IngestMessage(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !dispatched {
		t.Fatal("unparseable message must still reach the processor")
	}

	var result map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse JSON response: %v", err)
	}
	if result["ack_code"] != "AE" {
		t.Errorf("expected ack_code AE, got %v", result["ack_code"])
	}
}
