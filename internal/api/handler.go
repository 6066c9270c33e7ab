package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/septivank/utility-billing-worker/internal/db"
	"github.com/septivank/utility-billing-worker/internal/logging"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Bills is the bill service as seen by the API
type Bills interface {
	Get(ctx context.Context, id uuid.UUID) (*db.Bill, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]db.Bill, error)
	OutstandingBalance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error)
	RecordPayment(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (*db.Bill, error)
}

// Readings is the reading service as seen by the API
type Readings interface {
	Record(ctx context.Context, reading db.MeterReading) (*db.MeterReading, error)
	MarkBilled(ctx context.Context, id uuid.UUID) (*db.MeterReading, error)
}

// Handler serves the bill and reading endpoints
type Handler struct {
	bills    Bills
	readings Readings
	logger   *zap.Logger
}

// NewHandler creates a new handler
func NewHandler(bills Bills, readings Readings, logger *zap.Logger) *Handler {
	return &Handler{bills: bills, readings: readings, logger: logger}
}

// BillResponse is a bill as returned by the API
type BillResponse struct {
	ID             uuid.UUID       `json:"id"`
	UserID         uuid.UUID       `json:"user_id"`
	ConnectionID   uuid.UUID       `json:"connection_id"`
	GenerationDate time.Time       `json:"generation_date"`
	DueDate        time.Time       `json:"due_date"`
	Consumption    decimal.Decimal `json:"consumption"`
	BaseAmount     decimal.Decimal `json:"base_amount"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	PenaltyAmount  decimal.Decimal `json:"penalty_amount"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	Status         db.BillStatus   `json:"status"`
	PaidAt         *time.Time      `json:"paid_at,omitempty"`
}

func toBillResponse(b db.Bill) BillResponse {
	return BillResponse{
		ID:             b.ID,
		UserID:         b.UserID,
		ConnectionID:   b.ConnectionID,
		GenerationDate: b.GenerationDate,
		DueDate:        b.DueDate,
		Consumption:    b.Consumption,
		BaseAmount:     b.BaseAmount,
		TaxAmount:      b.TaxAmount,
		PenaltyAmount:  b.PenaltyAmount,
		TotalAmount:    b.TotalAmount,
		Status:         b.Status,
		PaidAt:         b.PaidAt,
	}
}

// BalanceResponse is a user's outstanding balance
type BalanceResponse struct {
	UserID  uuid.UUID       `json:"user_id"`
	Balance decimal.Decimal `json:"balance"`
}

// PaymentRequest settles a bill
type PaymentRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// ReadingRequest submits a meter reading
type ReadingRequest struct {
	ConnectionID    uuid.UUID       `json:"connection_id" binding:"required"`
	BillingCycleID  uuid.UUID       `json:"billing_cycle_id" binding:"required"`
	TariffID        uuid.UUID       `json:"tariff_id" binding:"required"`
	PreviousReading decimal.Decimal `json:"previous_reading"`
	CurrentReading  decimal.Decimal `json:"current_reading"`
	ReadingDate     *time.Time      `json:"reading_date"`
}

// ReadingResponse is a meter reading as returned by the API
type ReadingResponse struct {
	ID              uuid.UUID        `json:"id"`
	ConnectionID    uuid.UUID        `json:"connection_id"`
	BillingCycleID  uuid.UUID        `json:"billing_cycle_id"`
	TariffID        uuid.UUID        `json:"tariff_id"`
	PreviousReading decimal.Decimal  `json:"previous_reading"`
	CurrentReading  decimal.Decimal  `json:"current_reading"`
	Consumption     decimal.Decimal  `json:"consumption"`
	ReadingDate     time.Time        `json:"reading_date"`
	Status          db.ReadingStatus `json:"status"`
	AnomalyReason   *string          `json:"anomaly_reason,omitempty"`
}

func toReadingResponse(r db.MeterReading) ReadingResponse {
	return ReadingResponse{
		ID:              r.ID,
		ConnectionID:    r.ConnectionID,
		BillingCycleID:  r.BillingCycleID,
		TariffID:        r.TariffID,
		PreviousReading: r.PreviousReading,
		CurrentReading:  r.CurrentReading,
		Consumption:     r.Consumption,
		ReadingDate:     r.ReadingDate,
		Status:          r.Status,
		AnomalyReason:   r.AnomalyReason,
	}
}

// GetBill handles GET /bills/:id
func (h *Handler) GetBill(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	bill, err := h.bills.Get(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, err)
		return
	}
	success(c, http.StatusOK, toBillResponse(*bill))
}

// ListUserBills handles GET /users/:id/bills
func (h *Handler) ListUserBills(c *gin.Context) {
	userID, ok := parseID(c, "id")
	if !ok {
		return
	}

	bills, err := h.bills.ListForUser(c.Request.Context(), userID)
	if err != nil {
		h.handleError(c, err)
		return
	}

	out := make([]BillResponse, 0, len(bills))
	for _, b := range bills {
		out = append(out, toBillResponse(b))
	}
	success(c, http.StatusOK, out)
}

// GetUserBalance handles GET /users/:id/balance
func (h *Handler) GetUserBalance(c *gin.Context) {
	userID, ok := parseID(c, "id")
	if !ok {
		return
	}

	balance, err := h.bills.OutstandingBalance(c.Request.Context(), userID)
	if err != nil {
		h.handleError(c, err)
		return
	}
	success(c, http.StatusOK, BalanceResponse{UserID: userID, Balance: balance})
}

// RecordPayment handles POST /bills/:id/payments
func (h *Handler) RecordPayment(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req PaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}

	bill, err := h.bills.RecordPayment(c.Request.Context(), id, req.Amount)
	if err != nil {
		h.handleError(c, err)
		return
	}
	success(c, http.StatusOK, toBillResponse(*bill))
}

// RecordReading handles POST /readings
func (h *Handler) RecordReading(c *gin.Context) {
	var req ReadingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}

	reading := db.MeterReading{
		ConnectionID:    req.ConnectionID,
		BillingCycleID:  req.BillingCycleID,
		TariffID:        req.TariffID,
		PreviousReading: req.PreviousReading,
		CurrentReading:  req.CurrentReading,
	}
	if req.ReadingDate != nil {
		reading.ReadingDate = *req.ReadingDate
	}

	saved, err := h.readings.Record(c.Request.Context(), reading)
	if err != nil {
		h.handleError(c, err)
		return
	}
	success(c, http.StatusCreated, toReadingResponse(*saved))
}

// MarkReadingBilled handles POST /readings/:id/billed
func (h *Handler) MarkReadingBilled(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	reading, err := h.readings.MarkBilled(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, err)
		return
	}
	success(c, http.StatusOK, toReadingResponse(*reading))
}

func (h *Handler) handleError(c *gin.Context, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		logging.WithRequestID(h.logger, getRequestID(c)).Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		fail(c, status, code, "internal error")
		return
	}
	fail(c, status, code, err.Error())
}

func parseID(c *gin.Context, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid "+param)
		return uuid.Nil, false
	}
	return id, true
}
