package reporter

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/kubejarvis/easee-status/internal/collector"
	"github.com/kubejarvis/easee-status/internal/config"
)

// ClickHouseSinkName is the name of the ClickHouse sink
const ClickHouseSinkName = "clickhouse"

// BatchConn is the part of a ClickHouse connection the sink uses
type BatchConn interface {
	Exec(ctx context.Context, query string, args ...any) error
	PrepareBatch(ctx context.Context, query string, opts ...driver.PrepareBatchOption) (driver.Batch, error)
	Close() error
}

// ClickHouseSink appends samples to a MergeTree table, one row per sample
type ClickHouseSink struct {
	conn   BatchConn
	table  string
	logger *zap.Logger
}

// NewClickHouseSink connects to ClickHouse and creates the table if needed
func NewClickHouseSink(ctx context.Context, cfg config.ClickHouseConfig, logger *zap.Logger) (*ClickHouseSink, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	sink := NewClickHouseSinkWithConn(conn, cfg.Table, logger)
	if err := sink.CreateTable(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return sink, nil
}

// NewClickHouseSinkWithConn wraps an existing connection
func NewClickHouseSinkWithConn(conn BatchConn, table string, logger *zap.Logger) *ClickHouseSink {
	return &ClickHouseSink{
		conn:   conn,
		table:  table,
		logger: logger.With(zap.String("sink", ClickHouseSinkName)),
	}
}

// CreateTable creates the sample table if it does not exist
func (s *ClickHouseSink) CreateTable(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			timestamp DateTime64(3),
			measurement LowCardinality(String),
			charger LowCardinality(String),
			variable LowCardinality(String),
			value Float64
		) ENGINE = MergeTree()
		PARTITION BY toYYYYMM(timestamp)
		ORDER BY (charger, variable, timestamp)
	`, s.table)

	if err := s.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create table %s: %w", s.table, err)
	}
	return nil
}

func (s *ClickHouseSink) Name() string {
	return ClickHouseSinkName
}

// Write inserts all samples in one batch
func (s *ClickHouseSink) Write(ctx context.Context, samples []collector.Sample) error {
	if len(samples) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s", s.table))
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, sample := range samples {
		err := batch.Append(
			sample.Timestamp,
			sample.Measurement,
			sample.Tags[collector.TagCharger],
			sample.Tags[collector.TagVariable],
			sample.Value,
		)
		if err != nil {
			_ = batch.Abort()
			return fmt.Errorf("failed to append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	s.logger.Debug("Rows inserted", zap.Int("rows", len(samples)), zap.String("table", s.table))
	return nil
}

func (s *ClickHouseSink) Close() error {
	return s.conn.Close()
}
