package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/septivank/utility-billing-worker/internal/anomaly"
	"github.com/septivank/utility-billing-worker/internal/clock"
	"github.com/septivank/utility-billing-worker/internal/db"
	"github.com/septivank/utility-billing-worker/internal/repository"
	"github.com/septivank/utility-billing-worker/internal/validator"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ReadingStore is the part of the record store reading intake uses
type ReadingStore interface {
	LoadReading(ctx context.Context, id uuid.UUID) (*db.MeterReading, error)
	SaveReading(ctx context.Context, reading *db.MeterReading) error
	HasReadyReading(ctx context.Context, connectionID, billingCycleID uuid.UUID) (bool, error)
	RecentConsumption(ctx context.Context, connectionID uuid.UUID, limit int) ([]decimal.Decimal, error)
}

// ReadingService records meter readings ahead of bill generation
type ReadingService struct {
	store       ReadingStore
	detector    *anomaly.Detector
	historySize int
	clock       clock.Clock
	logger      *zap.Logger
}

// NewReadingService creates a new reading service
func NewReadingService(store ReadingStore, detector *anomaly.Detector, historySize int, clk clock.Clock, logger *zap.Logger) *ReadingService {
	return &ReadingService{
		store:       store,
		detector:    detector,
		historySize: historySize,
		clock:       clk,
		logger:      logger,
	}
}

// Record validates and stores a reading as ReadyForBilling.
// The tariff in force at reading time is snapshotted onto the reading.
func (s *ReadingService) Record(ctx context.Context, reading db.MeterReading) (*db.MeterReading, error) {
	if reading.TariffID == uuid.Nil {
		return nil, fmt.Errorf("%w: reading has no tariff", validator.ErrInvalidArgument)
	}

	consumption, err := validator.ValidateConsumption(reading.CurrentReading, reading.PreviousReading)
	if err != nil {
		return nil, err
	}

	exists, err := s.store.HasReadyReading(ctx, reading.ConnectionID, reading.BillingCycleID)
	if err != nil {
		return nil, fmt.Errorf("failed to check pending readings: %w", err)
	}
	if exists {
		return nil, fmt.Errorf("connection %s: %w", reading.ConnectionID, repository.ErrDuplicateReading)
	}

	if reading.ID == uuid.Nil {
		reading.ID = uuid.New()
	}
	if reading.ReadingDate.IsZero() {
		reading.ReadingDate = s.clock.Now()
	}
	reading.Consumption = consumption
	reading.Status = db.ReadingReadyForBilling
	reading.AnomalyReason = nil

	logger := s.logger.With(
		zap.String("reading_id", reading.ID.String()),
		zap.String("connection_id", reading.ConnectionID.String()),
	)

	history, err := s.store.RecentConsumption(ctx, reading.ConnectionID, s.historySize)
	if err != nil {
		logger.Warn("failed to load consumption history, skipping anomaly detection", zap.Error(err))
	} else if isAnomaly, reason := s.detector.DetectAnomaly(consumption, history); isAnomaly {
		reading.AnomalyReason = &reason
		logger.Warn("anomaly detected", zap.String("reason", reason))
	}

	if err := s.store.SaveReading(ctx, &reading); err != nil {
		return nil, fmt.Errorf("failed to save reading: %w", err)
	}

	logger.Info("reading recorded", zap.String("consumption", consumption.String()))
	return &reading, nil
}

// MarkBilled moves a ReadyForBilling reading to Billed once a bill was generated from it
func (s *ReadingService) MarkBilled(ctx context.Context, id uuid.UUID) (*db.MeterReading, error) {
	reading, err := s.store.LoadReading(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load reading %s: %w", id, err)
	}
	if reading.Status == db.ReadingBilled {
		return nil, fmt.Errorf("%w: reading %s is already billed", validator.ErrInvalidArgument, id)
	}

	reading.Status = db.ReadingBilled
	if err := s.store.SaveReading(ctx, reading); err != nil {
		return nil, fmt.Errorf("failed to save reading %s: %w", id, err)
	}
	return reading, nil
}
