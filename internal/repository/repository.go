package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/septivank/utility-billing-worker/internal/db"
	"github.com/septivank/utility-billing-worker/tools/dateutil"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateReading is returned when a connection already has a reading ready for billing in the cycle
	ErrDuplicateReading = errors.New("a reading is already ready for billing for this connection and billing cycle")

	// ErrBillSettled is returned when a bill write finds the bill missing or already Paid
	ErrBillSettled = errors.New("bill is missing or already paid")
)

const uniqueViolation = "23505"

// Querier is satisfied by *pgxpool.Pool, *pgxpool.Conn and pgx.Tx
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository handles database operations for bills, readings and notifications
type Repository struct {
	q   Querier
	loc *time.Location
}

// NewRepository creates a new repository. Bill dates are returned in loc, the billing
// calendar, and due-date lookups compare calendar dates in loc; nil means UTC.
func NewRepository(q Querier, loc *time.Location) *Repository {
	if loc == nil {
		loc = time.UTC
	}
	return &Repository{q: q, loc: loc}
}

const dueBillColumns = `
	b.id, b.user_id, b.connection_id, b.reading_id, b.billing_cycle_id, b.tariff_id,
	b.generation_date, b.due_date, b.previous_reading, b.current_reading, b.consumption,
	b.base_amount, b.tax_amount, b.penalty_amount, b.total_amount, b.status, b.paid_at,
	c.grace_period, t.fixed_charge
`

const dueBillFrom = `
	FROM bills b
	JOIN billing_cycles c ON c.id = b.billing_cycle_id
	JOIN tariffs t ON t.id = b.tariff_id
`

func scanDueBill(row pgx.Row) (db.DueBill, error) {
	var d db.DueBill
	var status string
	err := row.Scan(
		&d.Bill.ID,
		&d.Bill.UserID,
		&d.Bill.ConnectionID,
		&d.Bill.ReadingID,
		&d.Bill.BillingCycleID,
		&d.Bill.TariffID,
		&d.Bill.GenerationDate,
		&d.Bill.DueDate,
		&d.Bill.PreviousReading,
		&d.Bill.CurrentReading,
		&d.Bill.Consumption,
		&d.Bill.BaseAmount,
		&d.Bill.TaxAmount,
		&d.Bill.PenaltyAmount,
		&d.Bill.TotalAmount,
		&status,
		&d.Bill.PaidAt,
		&d.GracePeriodDays,
		&d.FixedCharge,
	)
	d.Bill.Status = db.BillStatus(status)
	return d, err
}

func (r *Repository) scanDueBill(row pgx.Row) (db.DueBill, error) {
	d, err := scanDueBill(row)
	if err != nil {
		return d, err
	}
	d.Bill.GenerationDate = d.Bill.GenerationDate.In(r.loc)
	d.Bill.DueDate = d.Bill.DueDate.In(r.loc)
	return d, nil
}

func (r *Repository) collectDueBills(rows pgx.Rows) ([]db.DueBill, error) {
	defer rows.Close()

	var bills []db.DueBill
	for rows.Next() {
		d, err := r.scanDueBill(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bill: %w", err)
		}
		bills = append(bills, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return bills, nil
}

// LoadDueBill loads a bill together with its grace period and fixed charge
func (r *Repository) LoadDueBill(ctx context.Context, id uuid.UUID) (*db.DueBill, error) {
	query := `SELECT ` + dueBillColumns + dueBillFrom + ` WHERE b.id = $1`

	d, err := r.scanDueBill(r.q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("bill %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query bill: %w", err)
	}
	return &d, nil
}

// LoadBill loads a single bill
func (r *Repository) LoadBill(ctx context.Context, id uuid.UUID) (*db.Bill, error) {
	d, err := r.LoadDueBill(ctx, id)
	if err != nil {
		return nil, err
	}
	return &d.Bill, nil
}

// ListDueBillsByUser loads all bills of a user, newest first
func (r *Repository) ListDueBillsByUser(ctx context.Context, userID uuid.UUID) ([]db.DueBill, error) {
	query := `SELECT ` + dueBillColumns + dueBillFrom + `
		WHERE b.user_id = $1
		ORDER BY b.generation_date DESC
	`

	rows, err := r.q.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query bills: %w", err)
	}
	return r.collectDueBills(rows)
}

// FindBillsDueOn loads bills whose due date falls on the calendar date of date, read in the
// billing calendar, and whose stored status is one of statuses
func (r *Repository) FindBillsDueOn(ctx context.Context, date time.Time, statuses []db.BillStatus) ([]db.DueBill, error) {
	query := `SELECT ` + dueBillColumns + dueBillFrom + `
		WHERE (b.due_date AT TIME ZONE $3)::date = $1::date AND b.status = ANY($2)
		ORDER BY b.id
	`

	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}

	day := date.In(r.loc).Format(dateutil.DateLayout)
	rows, err := r.q.Query(ctx, query, day, names, r.loc.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query bills due on %s: %w", day, err)
	}
	return r.collectDueBills(rows)
}

// SaveBill persists the refreshed status, penalty and total of an unpaid bill.
// Base amounts are never rewritten and a Paid bill is never touched; payments go through MarkPaid.
func (r *Repository) SaveBill(ctx context.Context, bill *db.Bill) error {
	if bill.Status == db.BillPaid {
		return fmt.Errorf("bill %s: Paid status is written by MarkPaid only", bill.ID)
	}

	query := `
		UPDATE bills
		SET status = $1, penalty_amount = $2, total_amount = $3
		WHERE id = $4 AND status <> $5
	`

	tag, err := r.q.Exec(ctx, query,
		string(bill.Status),
		bill.PenaltyAmount,
		bill.TotalAmount,
		bill.ID,
		string(db.BillPaid),
	)
	if err != nil {
		return fmt.Errorf("failed to update bill: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("bill %s: %w", bill.ID, ErrBillSettled)
	}

	return nil
}

// MarkPaid settles a bill with its final penalty and total. Only one payment can win;
// the others get ErrBillSettled.
func (r *Repository) MarkPaid(ctx context.Context, bill *db.Bill) error {
	if bill.PaidAt == nil {
		return fmt.Errorf("bill %s: paid_at is required", bill.ID)
	}

	query := `
		UPDATE bills
		SET status = $1, penalty_amount = $2, total_amount = $3, paid_at = $4
		WHERE id = $5 AND status <> $1
	`

	tag, err := r.q.Exec(ctx, query,
		string(db.BillPaid),
		bill.PenaltyAmount,
		bill.TotalAmount,
		*bill.PaidAt,
		bill.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark bill paid: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("bill %s: %w", bill.ID, ErrBillSettled)
	}

	bill.Status = db.BillPaid
	return nil
}

const readingColumns = `
	id, connection_id, billing_cycle_id, tariff_id, previous_reading, current_reading,
	consumption, reading_date, status, anomaly_reason
`

// LoadReading loads a single meter reading
func (r *Repository) LoadReading(ctx context.Context, id uuid.UUID) (*db.MeterReading, error) {
	query := `SELECT ` + readingColumns + ` FROM meter_readings WHERE id = $1`

	var m db.MeterReading
	var status string
	err := r.q.QueryRow(ctx, query, id).Scan(
		&m.ID,
		&m.ConnectionID,
		&m.BillingCycleID,
		&m.TariffID,
		&m.PreviousReading,
		&m.CurrentReading,
		&m.Consumption,
		&m.ReadingDate,
		&status,
		&m.AnomalyReason,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("reading %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query reading: %w", err)
	}
	m.Status = db.ReadingStatus(status)
	return &m, nil
}

// SaveReading inserts a reading or updates its status.
// The partial unique index on ready readings surfaces as ErrDuplicateReading.
func (r *Repository) SaveReading(ctx context.Context, reading *db.MeterReading) error {
	query := `
		INSERT INTO meter_readings (` + readingColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, anomaly_reason = EXCLUDED.anomaly_reason
	`

	_, err := r.q.Exec(ctx, query,
		reading.ID,
		reading.ConnectionID,
		reading.BillingCycleID,
		reading.TariffID,
		reading.PreviousReading,
		reading.CurrentReading,
		reading.Consumption,
		reading.ReadingDate,
		string(reading.Status),
		reading.AnomalyReason,
	)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicateReading
	}
	if err != nil {
		return fmt.Errorf("failed to save meter reading: %w", err)
	}

	return nil
}

// HasReadyReading reports whether a ReadyForBilling reading exists for the connection and cycle
func (r *Repository) HasReadyReading(ctx context.Context, connectionID, billingCycleID uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM meter_readings
			WHERE connection_id = $1 AND billing_cycle_id = $2 AND status = $3
		)
	`

	var exists bool
	if err := r.q.QueryRow(ctx, query, connectionID, billingCycleID, string(db.ReadingReadyForBilling)).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to query ready readings: %w", err)
	}
	return exists, nil
}

// RecentConsumption returns the latest consumptions of a connection for anomaly detection
func (r *Repository) RecentConsumption(ctx context.Context, connectionID uuid.UUID, limit int) ([]decimal.Decimal, error) {
	query := `
		SELECT consumption
		FROM meter_readings
		WHERE connection_id = $1 AND anomaly_reason IS NULL
		ORDER BY reading_date DESC
		LIMIT $2
	`

	rows, err := r.q.Query(ctx, query, connectionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent consumption: %w", err)
	}
	defer rows.Close()

	var values []decimal.Decimal
	for rows.Next() {
		var value decimal.Decimal
		if err := rows.Scan(&value); err != nil {
			return nil, fmt.Errorf("failed to scan value: %w", err)
		}
		values = append(values, value)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return values, nil
}

// AppendNotification stores a notification. A notification whose dedup key is
// already stored is dropped silently.
func (r *Repository) AppendNotification(ctx context.Context, n *db.Notification) error {
	query := `
		INSERT INTO notifications (id, user_id, bill_id, type, title, message, dedup_key, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (dedup_key) DO NOTHING
	`

	_, err := r.q.Exec(ctx, query,
		n.ID,
		n.UserID,
		n.BillID,
		n.Type,
		n.Title,
		n.Message,
		n.DedupKey,
		n.IsRead,
		n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}

	return nil
}

// NotificationExists reports whether a notification with the dedup key is stored
func (r *Repository) NotificationExists(ctx context.Context, dedupKey string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM notifications WHERE dedup_key = $1)`

	var exists bool
	if err := r.q.QueryRow(ctx, query, dedupKey).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to query notification: %w", err)
	}
	return exists, nil
}
