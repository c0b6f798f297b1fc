package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

type fakeExecer struct {
	sql  string
	args []any
	err  error
}

func (f *fakeExecer) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.sql = sql
	f.args = args
	return pgconn.NewCommandTag("INSERT 0 1"), f.err
}

func TestLedger_NoBackends(t *testing.T) {
	l := New(nil, nil)
	if err := l.Record(context.Background(), Record{RequestID: "r1", ReasoningCostUSD: 0.01}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	spend, err := l.Today(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if spend.Tracked {
		t.Error("spend must be untracked without redis")
	}
	if spend.Day == "" {
		t.Error("expected day to be set")
	}
}

func TestLedger_InsertsRow(t *testing.T) {
	db := &fakeExecer{}
	l := New(nil, db)
	l.now = func() time.Time { return time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC) }

	rec := Record{
		RequestID:            "req-1",
		Stream:               true,
		State:                "done",
		ReasoningModel:       "deepseek-reasoner",
		ResponseModel:        "claude-3-5-sonnet-20241022",
		ReasoningInputTokens: 10,
		ResponseOutputTokens: 20,
		ReasoningCostUSD:     0.001,
		ResponseCostUSD:      0.002,
		Duration:             1500 * time.Millisecond,
	}
	if err := l.Record(context.Background(), rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(db.args) != 17 {
		t.Fatalf("expected 17 insert args, got %d", len(db.args))
	}
	if db.args[0] != "req-1" {
		t.Errorf("expected request id first, got %v", db.args[0])
	}
	if db.args[3] != (*string)(nil) {
		t.Errorf("empty error type must be NULL, got %v", db.args[3])
	}
	if db.args[15] != int64(1500) {
		t.Errorf("expected duration 1500ms, got %v", db.args[15])
	}
	if got := db.args[16].(time.Time); !got.Equal(l.now()) {
		t.Errorf("expected created_at defaulted to now, got %v", got)
	}
}

func TestLedger_InsertErrorIdentifiesBackend(t *testing.T) {
	l := New(nil, &fakeExecer{err: errors.New("connection refused")})
	err := l.Record(context.Background(), Record{RequestID: "r"})

	var berr *BackendError
	if !errors.As(err, &berr) {
		t.Fatalf("expected BackendError, got %v", err)
	}
	if berr.Backend != "postgres" {
		t.Errorf("expected postgres backend, got %s", berr.Backend)
	}
}

func TestToMicros(t *testing.T) {
	tests := []struct {
		usd  float64
		want int64
	}{
		{0, 0},
		{0.000001, 1},
		{0.0021949, 2195},
		{1.5, 1_500_000},
	}
	for _, tt := range tests {
		if got := toMicros(tt.usd); got != tt.want {
			t.Errorf("toMicros(%v) = %d, want %d", tt.usd, got, tt.want)
		}
	}
}

func TestDailyKey(t *testing.T) {
	day := time.Date(2025, 12, 31, 23, 0, 0, 0, time.FixedZone("X", -3600))
	if got := dailyKey(day); got != "thinkrelay:spend:daily:2026-01-01" {
		t.Errorf("expected UTC day in key, got %s", got)
	}
}
