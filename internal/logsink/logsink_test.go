package logsink

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lock-approach.klederson.com/internal/mode"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestDB(t *testing.T, retain int) *SQLite {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "logs.db"), retain, discard())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteRetainsNewest(t *testing.T) {
	s := openTestDB(t, 3)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		s.RecordDistances(ctx, float64(100+i), float64(200+i))
	}

	n, err := s.Count(ctx, "distance_logs")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	recs, err := s.Distances(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, 104.0, recs[0].FrontCm)
	assert.Equal(t, 204.0, recs[0].BackCm)
	assert.Equal(t, 102.0, recs[2].FrontCm)
	assert.WithinDuration(t, time.Now(), recs[0].RecordedAt, time.Minute)
}

func TestSQLiteKeepsEverythingWithoutRetain(t *testing.T) {
	s := openTestDB(t, 0)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		s.RecordSignal(ctx, -60-i)
	}
	n, err := s.Count(ctx, "signal_logs")
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	recs, err := s.Signals(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, -63, recs[0].DBm)
}

func TestSQLiteApproachEvents(t *testing.T) {
	s := openTestDB(t, 100)
	ctx := context.Background()
	s.RecordConfirmation(ctx, mode.Ranging)
	s.RecordConfirmation(ctx, mode.SignalOnly)

	recs, err := s.Approaches(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "signal-only", recs[0].Mode)
	assert.Equal(t, "ranging", recs[1].Mode)
	assert.Less(t, recs[1].ID, recs[0].ID)
}

func TestSQLiteReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs.db")
	s, err := OpenSQLite(path, 10, discard())
	require.NoError(t, err)
	s.RecordDistances(context.Background(), 1, 2)
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path, 10, discard())
	require.NoError(t, err)
	defer s.Close()
	n, err := s.Count(context.Background(), "distance_logs")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCountRejectsUnknownTable(t *testing.T) {
	s := openTestDB(t, 10)
	_, err := s.Count(context.Background(), "users; DROP TABLE distance_logs")
	assert.Error(t, err)
}

type recorder struct {
	distances [][2]float64
	signals   []int
	confirms  []mode.Mode
}

func (r *recorder) RecordDistances(_ context.Context, f, b float64) {
	r.distances = append(r.distances, [2]float64{f, b})
}
func (r *recorder) RecordSignal(_ context.Context, dbm int) { r.signals = append(r.signals, dbm) }
func (r *recorder) RecordConfirmation(_ context.Context, m mode.Mode) {
	r.confirms = append(r.confirms, m)
}

func TestMultiFansOut(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	m := Multi{a, b}
	ctx := context.Background()
	m.RecordDistances(ctx, 250, 400)
	m.RecordSignal(ctx, -65)
	m.RecordConfirmation(ctx, mode.Ranging)

	for _, r := range []*recorder{a, b} {
		assert.Equal(t, [][2]float64{{250, 400}}, r.distances)
		assert.Equal(t, []int{-65}, r.signals)
		assert.Equal(t, []mode.Mode{mode.Ranging}, r.confirms)
	}
}

func TestLoggerSink(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(slog.New(slog.NewTextHandler(&buf, nil)))
	ctx := context.Background()
	l.RecordDistances(ctx, 250, 400)
	l.RecordSignal(ctx, -65)
	l.RecordConfirmation(ctx, mode.SignalOnly)

	out := buf.String()
	assert.Contains(t, out, "front_cm=250")
	assert.Contains(t, out, "dbm=-65")
	assert.Contains(t, out, "mode=signal-only")
	assert.Contains(t, out, "component=logsink")
}
