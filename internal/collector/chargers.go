package collector

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kubejarvis/easee-status/internal/easee"
)

// ChargerCollectorName is the name the charger collector registers under.
const ChargerCollectorName = "easee_chargers"

// Tag keys and variable names written for every charger.
const (
	TagCharger  = "charger"
	TagVariable = "variable"

	VariablePower         = "power"
	VariableEnergyPerHour = "energy_per_hour"
	VariableSession       = "session"
)

// StateSource returns the current state of every charger.
type StateSource interface {
	ChargerStates(ctx context.Context) ([]easee.ChargerState, error)
}

// ChargerCollector turns charger states into samples, three per charger.
type ChargerCollector struct {
	source      StateSource
	measurement string
	timeout     time.Duration
	now         func() time.Time
	logger      *zap.Logger
}

// NewChargerCollector creates a collector writing to measurement.
func NewChargerCollector(source StateSource, measurement string, timeout time.Duration, logger *zap.Logger) *ChargerCollector {
	return &ChargerCollector{
		source:      source,
		measurement: measurement,
		timeout:     timeout,
		now:         time.Now,
		logger:      logger.With(zap.String("collector", ChargerCollectorName)),
	}
}

func (c *ChargerCollector) Name() string {
	return ChargerCollectorName
}

func (c *ChargerCollector) Timeout() time.Duration {
	return c.timeout
}

// Collect fetches every charger's state. Any API error fails the whole collection.
func (c *ChargerCollector) Collect(ctx context.Context) (*Result, error) {
	start := c.now()

	states, err := c.source.ChargerStates(ctx)
	if err != nil {
		return nil, fmt.Errorf("collect charger states: %w", err)
	}

	result := &Result{
		Collector: ChargerCollectorName,
		Samples:   ChargerSamples(c.measurement, states, start.UTC()),
		Duration:  c.now().Sub(start),
	}
	if len(states) == 0 {
		result.Skipped = true
		result.Reason = "no chargers on the account"
	}

	c.logger.Debug("Collected charger states",
		zap.Int("chargers", len(states)),
		zap.Int("samples", len(result.Samples)))
	return result, nil
}

// ChargerSamples converts states into samples sharing one timestamp.
func ChargerSamples(measurement string, states []easee.ChargerState, ts time.Time) []Sample {
	samples := make([]Sample, 0, len(states)*3)
	for _, state := range states {
		values := []struct {
			variable string
			value    float64
		}{
			{VariablePower, state.Power},
			{VariableEnergyPerHour, state.EnergyPerHour},
			{VariableSession, state.Session},
		}
		for _, v := range values {
			samples = append(samples, Sample{
				Measurement: measurement,
				Tags: map[string]string{
					TagCharger:  state.ID,
					TagVariable: v.variable,
				},
				Value:     v.value,
				Timestamp: ts,
			})
		}
	}
	return samples
}
