package collector

import (
	"time"

	"go.uber.org/zap"
)

// RegisterDefaultCollectors registers the collectors every deployment runs
func RegisterDefaultCollectors(registry Registry, source StateSource, measurement string, timeout time.Duration, logger *zap.Logger) error {
	collectors := []Collector{
		NewChargerCollector(source, measurement, timeout, logger),
	}

	for _, collector := range collectors {
		if err := registry.Register(collector); err != nil {
			return err
		}
	}

	return nil
}
