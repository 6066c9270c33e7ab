package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/septivank/utility-billing-worker/internal/db"
	"github.com/septivank/utility-billing-worker/internal/repository"
	"github.com/septivank/utility-billing-worker/internal/service"
	"github.com/septivank/utility-billing-worker/internal/validator"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeBills struct {
	bill       *db.Bill
	bills      []db.Bill
	balance    decimal.Decimal
	err        error
	paidAmount decimal.Decimal
}

func (f *fakeBills) Get(_ context.Context, _ uuid.UUID) (*db.Bill, error) {
	return f.bill, f.err
}

func (f *fakeBills) ListForUser(_ context.Context, _ uuid.UUID) ([]db.Bill, error) {
	return f.bills, f.err
}

func (f *fakeBills) OutstandingBalance(_ context.Context, _ uuid.UUID) (decimal.Decimal, error) {
	return f.balance, f.err
}

func (f *fakeBills) RecordPayment(_ context.Context, _ uuid.UUID, amount decimal.Decimal) (*db.Bill, error) {
	f.paidAmount = amount
	return f.bill, f.err
}

type fakeReadings struct {
	recorded db.MeterReading
	err      error
}

func (f *fakeReadings) Record(_ context.Context, reading db.MeterReading) (*db.MeterReading, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.recorded = reading
	reading.ID = uuid.New()
	reading.Status = db.ReadingReadyForBilling
	return &reading, nil
}

func (f *fakeReadings) MarkBilled(_ context.Context, id uuid.UUID) (*db.MeterReading, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &db.MeterReading{ID: id, Status: db.ReadingBilled}, nil
}

func sampleBill() *db.Bill {
	return &db.Bill{
		ID:            uuid.New(),
		UserID:        uuid.New(),
		DueDate:       time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
		BaseAmount:    decimal.NewFromInt(100),
		TaxAmount:     decimal.NewFromInt(10),
		PenaltyAmount: decimal.NewFromInt(2),
		TotalAmount:   decimal.NewFromInt(112),
		Status:        db.BillOverdue,
	}
}

func serve(t *testing.T, bills Bills, readings Readings, method, path string, body any) (*httptest.ResponseRecorder, Response) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	router := NewRouter(NewHandler(bills, readings, zap.NewNop()), zap.NewNop())
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(RequestIDKey, "req-42")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp Response
	if w.Body.Len() > 0 && w.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func TestGetBill(t *testing.T) {
	bill := sampleBill()
	w, resp := serve(t, &fakeBills{bill: bill}, &fakeReadings{}, http.MethodGet, "/api/v1/bills/"+bill.ID.String(), nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)
	assert.Equal(t, "req-42", resp.RequestID)

	data := resp.Data.(map[string]any)
	assert.Equal(t, "Overdue", data["status"])
	assert.Equal(t, "112", data["total_amount"])
}

func TestGetBill_Errors(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		err    error
		status int
		code   string
	}{
		{"bad id", "/api/v1/bills/not-a-uuid", nil, http.StatusBadRequest, ErrCodeBadRequest},
		{"not found", "/api/v1/bills/" + uuid.NewString(), repository.ErrNotFound, http.StatusNotFound, ErrCodeNotFound},
		{"invalid terms", "/api/v1/bills/" + uuid.NewString(), validator.ErrInvalidArgument, http.StatusUnprocessableEntity, ErrCodeValidation},
		{"store failure", "/api/v1/bills/" + uuid.NewString(), errors.New("db down"), http.StatusInternalServerError, ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, resp := serve(t, &fakeBills{err: tt.err}, &fakeReadings{}, http.MethodGet, tt.path, nil)
			assert.Equal(t, tt.status, w.Code)
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
		})
	}
}

func TestInternalErrorHidesDetail(t *testing.T) {
	_, resp := serve(t, &fakeBills{err: errors.New("password authentication failed")}, &fakeReadings{},
		http.MethodGet, "/api/v1/bills/"+uuid.NewString(), nil)

	require.NotNil(t, resp.Error)
	assert.Equal(t, "internal error", resp.Error.Message)
}

func TestListUserBillsAndBalance(t *testing.T) {
	bills := &fakeBills{
		bills:   []db.Bill{*sampleBill(), *sampleBill()},
		balance: decimal.RequireFromString("224.00"),
	}
	userID := uuid.NewString()

	w, resp := serve(t, bills, &fakeReadings{}, http.MethodGet, "/api/v1/users/"+userID+"/bills", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, resp.Data, 2)

	w, resp = serve(t, bills, &fakeReadings{}, http.MethodGet, "/api/v1/users/"+userID+"/balance", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	data := resp.Data.(map[string]any)
	assert.Equal(t, "224", data["balance"])
	assert.Equal(t, userID, data["user_id"])
}

func TestRecordPayment(t *testing.T) {
	bill := sampleBill()
	bill.Status = db.BillPaid
	bills := &fakeBills{bill: bill}

	w, resp := serve(t, bills, &fakeReadings{}, http.MethodPost, "/api/v1/bills/"+bill.ID.String()+"/payments",
		map[string]string{"amount": "112.00"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)
	assert.True(t, decimal.NewFromInt(112).Equal(bills.paidAmount))
}

func TestRecordPayment_Errors(t *testing.T) {
	path := "/api/v1/bills/" + uuid.NewString() + "/payments"

	w, _ := serve(t, &fakeBills{err: service.ErrAlreadyPaid}, &fakeReadings{}, http.MethodPost, path, map[string]string{"amount": "1"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w, _ = serve(t, &fakeBills{err: service.ErrInsufficientPayment}, &fakeReadings{}, http.MethodPost, path, map[string]string{"amount": "1"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w, _ = serve(t, &fakeBills{}, &fakeReadings{}, http.MethodPost, path, map[string]string{"amount": "lots"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRecordReading(t *testing.T) {
	readings := &fakeReadings{}
	body := map[string]any{
		"connection_id":    uuid.NewString(),
		"billing_cycle_id": uuid.NewString(),
		"tariff_id":        uuid.NewString(),
		"previous_reading": "1000",
		"current_reading":  "1150.5",
	}

	w, resp := serve(t, &fakeBills{}, readings, http.MethodPost, "/api/v1/readings", body)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, resp.Success)
	assert.True(t, decimal.RequireFromString("1150.5").Equal(readings.recorded.CurrentReading))
	assert.True(t, readings.recorded.ReadingDate.IsZero())
	data := resp.Data.(map[string]any)
	assert.Equal(t, "ReadyForBilling", data["status"])
}

func TestRecordReading_Errors(t *testing.T) {
	body := map[string]any{
		"connection_id":    uuid.NewString(),
		"billing_cycle_id": uuid.NewString(),
		"tariff_id":        uuid.NewString(),
		"previous_reading": "10",
		"current_reading":  "5",
	}

	w, _ := serve(t, &fakeBills{}, &fakeReadings{err: validator.ErrInvalidReading}, http.MethodPost, "/api/v1/readings", body)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w, _ = serve(t, &fakeBills{}, &fakeReadings{err: repository.ErrDuplicateReading}, http.MethodPost, "/api/v1/readings", body)
	assert.Equal(t, http.StatusConflict, w.Code)

	w, _ = serve(t, &fakeBills{}, &fakeReadings{}, http.MethodPost, "/api/v1/readings", map[string]any{"current_reading": "5"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMarkReadingBilled(t *testing.T) {
	id := uuid.New()
	w, resp := serve(t, &fakeBills{}, &fakeReadings{}, http.MethodPost, "/api/v1/readings/"+id.String()+"/billed", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)
	data := resp.Data.(map[string]any)
	assert.Equal(t, "Billed", data["status"])
	assert.Equal(t, id.String(), data["id"])
}

func TestHealthAndMetrics(t *testing.T) {
	w, _ := serve(t, &fakeBills{}, &fakeReadings{}, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = serve(t, &fakeBills{}, &fakeReadings{}, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
