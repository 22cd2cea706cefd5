package reporter

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/InfluxCommunity/influxdb3-go/v2/influxdb3"
	"go.uber.org/zap"

	"github.com/kubejarvis/easee-status/internal/collector"
	"github.com/kubejarvis/easee-status/internal/config"
)

// InfluxSinkName is the name of the InfluxDB sink
const InfluxSinkName = "influxdb"

// PointWriter is the part of the InfluxDB client the sink uses
type PointWriter interface {
	WritePoints(ctx context.Context, points []*influxdb3.Point, options ...influxdb3.WriteOption) error
	Close() error
}

// InfluxSink writes samples as points with a single float field named value
type InfluxSink struct {
	client   PointWriter
	database string
	logger   *zap.Logger
}

const (
	influxWriteTimeout = 10 * time.Second

	// the client refuses an empty token; anonymousTransport drops it again
	anonymousToken = "anonymous"
)

// NewInfluxSink connects to the InfluxDB write API described by cfg. Without a
// token or v1 credentials requests are sent without an Authorization header.
func NewInfluxSink(cfg config.InfluxDBConfig, logger *zap.Logger) (*InfluxSink, error) {
	clientConfig := influxdb3.ClientConfig{
		Host:     cfg.Addr,
		Token:    cfg.AuthToken(),
		Database: cfg.Database,
	}
	if clientConfig.Token == "" {
		clientConfig.Token = anonymousToken
		clientConfig.HTTPClient = &http.Client{
			Timeout:   influxWriteTimeout,
			Transport: anonymousTransport{base: http.DefaultTransport},
		}
	}

	client, err := influxdb3.New(clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create InfluxDB client: %w", err)
	}

	return NewInfluxSinkWithClient(client, cfg.Database, logger), nil
}

// anonymousTransport sends requests without credentials
type anonymousTransport struct {
	base http.RoundTripper
}

func (t anonymousTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Del("Authorization")
	return t.base.RoundTrip(req)
}

// NewInfluxSinkWithClient wraps an existing writer
func NewInfluxSinkWithClient(client PointWriter, database string, logger *zap.Logger) *InfluxSink {
	return &InfluxSink{
		client:   client,
		database: database,
		logger:   logger.With(zap.String("sink", InfluxSinkName)),
	}
}

func (s *InfluxSink) Name() string {
	return InfluxSinkName
}

// Write sends all samples in one request
func (s *InfluxSink) Write(ctx context.Context, samples []collector.Sample) error {
	if len(samples) == 0 {
		return nil
	}

	points := make([]*influxdb3.Point, 0, len(samples))
	for _, sample := range samples {
		points = append(points, toPoint(sample))
	}

	if err := s.client.WritePoints(ctx, points); err != nil {
		return fmt.Errorf("failed to write %d points to %s: %w", len(points), s.database, err)
	}

	s.logger.Debug("Points written", zap.Int("points", len(points)), zap.String("database", s.database))
	return nil
}

func toPoint(sample collector.Sample) *influxdb3.Point {
	return influxdb3.NewPoint(
		sample.Measurement,
		sample.Tags,
		map[string]any{
			"value": sample.Value,
		},
		sample.Timestamp,
	)
}

func (s *InfluxSink) Close() error {
	return s.client.Close()
}
