package anomaly

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Detector flags unusual consumption against a connection's recent history
type Detector struct {
	spikeThreshold            decimal.Decimal
	minDataPointsForDetection int
}

// NewDetector creates a new anomaly detector with the specified thresholds
func NewDetector(spikeThreshold float64, minDataPointsForDetection int) *Detector {
	return &Detector{
		spikeThreshold:            decimal.NewFromFloat(spikeThreshold),
		minDataPointsForDetection: minDataPointsForDetection,
	}
}

// DetectAnomaly reports whether consumption looks anomalous and why.
// Anomalies are advisory; they never reject a reading.
func (d *Detector) DetectAnomaly(consumption decimal.Decimal, history []decimal.Decimal) (bool, string) {
	if len(history) < d.minDataPointsForDetection || len(history) == 0 {
		return false, ""
	}

	average := decimal.Avg(history[0], history[1:]...)
	if !average.IsPositive() {
		return false, ""
	}

	if consumption.IsZero() {
		return true, fmt.Sprintf("zero consumption after rolling average %s", average.StringFixed(2))
	}

	if consumption.GreaterThan(d.spikeThreshold.Mul(average)) {
		return true, fmt.Sprintf("sudden spike detected: consumption %s exceeds %sx rolling average %s",
			consumption.StringFixed(2), d.spikeThreshold.String(), average.StringFixed(2))
	}

	return false, ""
}
