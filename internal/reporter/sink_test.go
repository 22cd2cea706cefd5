package reporter

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/InfluxCommunity/influxdb3-go/v2/influxdb3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kubejarvis/easee-status/internal/collector"
	"github.com/kubejarvis/easee-status/internal/config"
)

type fakePointWriter struct {
	points []*influxdb3.Point
	err    error
	closed bool
}

func (f *fakePointWriter) WritePoints(ctx context.Context, points []*influxdb3.Point, options ...influxdb3.WriteOption) error {
	if f.err != nil {
		return f.err
	}
	f.points = append(f.points, points...)
	return nil
}

func (f *fakePointWriter) Close() error {
	f.closed = true
	return nil
}

func TestInfluxSink_Write(t *testing.T) {
	writer := &fakePointWriter{}
	sink := NewInfluxSinkWithClient(writer, "easee", zap.NewNop())

	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	err := sink.Write(context.Background(), []collector.Sample{{
		Measurement: "variable_backup",
		Tags:        map[string]string{"charger": "EH1", "variable": "power"},
		Value:       7.2,
		Timestamp:   ts,
	}})
	require.NoError(t, err)
	require.Len(t, writer.points, 1)

	p := writer.points[0]
	assert.Equal(t, "variable_backup", p.GetMeasurement())

	charger, ok := p.GetTag("charger")
	assert.True(t, ok)
	assert.Equal(t, "EH1", charger)

	variable, ok := p.GetTag("variable")
	assert.True(t, ok)
	assert.Equal(t, "power", variable)

	value := p.GetDoubleField("value")
	require.NotNil(t, value)
	assert.Equal(t, 7.2, *value)

	require.NoError(t, sink.Close())
	assert.True(t, writer.closed)
}

func TestInfluxSink_WriteError(t *testing.T) {
	writer := &fakePointWriter{err: errors.New("401 unauthorized")}
	sink := NewInfluxSinkWithClient(writer, "easee", zap.NewNop())

	err := sink.Write(context.Background(), testSamples(2, time.Now()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to write 2 points")

	// an empty batch never reaches the client
	assert.NoError(t, sink.Write(context.Background(), nil))
}

type writeRequest struct {
	path          string
	bucket        string
	authorization string
}

func newInfluxServer(t *testing.T) (*httptest.Server, func() []writeRequest) {
	t.Helper()
	var mu sync.Mutex
	var requests []writeRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests = append(requests, writeRequest{
			path:          r.URL.Path,
			bucket:        r.URL.Query().Get("bucket"),
			authorization: r.Header.Get("Authorization"),
		})
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	return srv, func() []writeRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]writeRequest(nil), requests...)
	}
}

func TestNewInfluxSink_Authorization(t *testing.T) {
	tests := []struct {
		name          string
		cfg           config.InfluxDBConfig
		authorization string
	}{
		{
			name:          "address and database only",
			cfg:           config.InfluxDBConfig{Database: "easee"},
			authorization: "",
		},
		{
			name:          "token",
			cfg:           config.InfluxDBConfig{Database: "easee", Token: "secret"},
			authorization: "Token secret",
		},
		{
			name:          "v1 credentials",
			cfg:           config.InfluxDBConfig{Database: "easee", Username: "alice", Password: "pw"},
			authorization: "Token alice:pw",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, requests := newInfluxServer(t)
			tt.cfg.Addr = srv.URL

			sink, err := NewInfluxSink(tt.cfg, zap.NewNop())
			require.NoError(t, err)
			defer sink.Close()

			require.NoError(t, sink.Write(context.Background(), testSamples(3, time.Now())))

			got := requests()
			require.Len(t, got, 1)
			assert.Equal(t, "/api/v2/write", got[0].path)
			assert.Equal(t, "easee", got[0].bucket)
			assert.Equal(t, tt.authorization, got[0].authorization)
		})
	}
}

// fakeBatch implements the calls the sink makes; the embedded interface panics on anything else.
type fakeBatch struct {
	driver.Batch
	rows      [][]any
	appendErr error
	sent      bool
	aborted   bool
}

func (b *fakeBatch) Append(v ...any) error {
	if b.appendErr != nil {
		return b.appendErr
	}
	b.rows = append(b.rows, v)
	return nil
}

func (b *fakeBatch) Send() error {
	b.sent = true
	return nil
}

func (b *fakeBatch) Abort() error {
	b.aborted = true
	return nil
}

type fakeConn struct {
	queries []string
	batch   *fakeBatch
	closed  bool
}

func (c *fakeConn) Exec(ctx context.Context, query string, args ...any) error {
	c.queries = append(c.queries, query)
	return nil
}

func (c *fakeConn) PrepareBatch(ctx context.Context, query string, opts ...driver.PrepareBatchOption) (driver.Batch, error) {
	c.queries = append(c.queries, query)
	return c.batch, nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

func TestClickHouseSink_Write(t *testing.T) {
	conn := &fakeConn{batch: &fakeBatch{}}
	sink := NewClickHouseSinkWithConn(conn, "charger_samples", zap.NewNop())

	require.NoError(t, sink.CreateTable(context.Background()))
	assert.Contains(t, conn.queries[0], "CREATE TABLE IF NOT EXISTS charger_samples")

	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	err := sink.Write(context.Background(), []collector.Sample{{
		Measurement: "variable_backup",
		Tags:        map[string]string{"charger": "EH1", "variable": "session"},
		Value:       12.5,
		Timestamp:   ts,
	}})
	require.NoError(t, err)

	assert.Equal(t, "INSERT INTO charger_samples", conn.queries[1])
	assert.True(t, conn.batch.sent)
	require.Len(t, conn.batch.rows, 1)
	assert.Equal(t, []any{ts, "variable_backup", "EH1", "session", 12.5}, conn.batch.rows[0])

	require.NoError(t, sink.Close())
	assert.True(t, conn.closed)
}

func TestClickHouseSink_AppendErrorAbortsBatch(t *testing.T) {
	conn := &fakeConn{batch: &fakeBatch{appendErr: errors.New("type mismatch")}}
	sink := NewClickHouseSinkWithConn(conn, "charger_samples", zap.NewNop())

	err := sink.Write(context.Background(), testSamples(1, time.Now()))
	require.Error(t, err)
	assert.True(t, conn.batch.aborted)
	assert.False(t, conn.batch.sent)
}
