// Package ledger records what each request cost. Daily totals live in Redis
// and per-request rows in PostgreSQL; either backend may be absent.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "thinkrelay:spend:daily:"

// Execer is the subset of pgxpool.Pool used for inserts.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Record is one finished request.
type Record struct {
	RequestID             string
	Stream                bool
	State                 string
	ErrorType             string
	ReasoningModel        string
	ResponseModel         string
	ReasoningInputTokens  int
	ReasoningOutputTokens int
	ReasoningCachedTokens int
	ResponseInputTokens   int
	ResponseOutputTokens  int
	ResponseCacheWrite    int
	ResponseCacheRead     int
	ReasoningCostUSD      float64
	ResponseCostUSD       float64
	Duration              time.Duration
	CreatedAt             time.Time
}

func (r Record) TotalCostUSD() float64 { return r.ReasoningCostUSD + r.ResponseCostUSD }

// Spend is the running total for one UTC day.
type Spend struct {
	Day      string  `json:"day"`
	Requests int64   `json:"requests"`
	CostUSD  float64 `json:"cost_usd"`
	// Tracked is false when no Redis backend is configured.
	Tracked bool `json:"tracked"`
}

// Ledger writes records to whichever backends are configured.
type Ledger struct {
	rdb *redis.Client
	db  Execer
	now func() time.Time
}

// New builds a ledger. Nil backends are skipped.
func New(rdb *redis.Client, db Execer) *Ledger {
	return &Ledger{rdb: rdb, db: db, now: time.Now}
}

func dailyKey(day time.Time) string {
	return keyPrefix + day.UTC().Format("2006-01-02")
}

// toMicros converts dollars to integer micro-dollars for atomic counters.
func toMicros(usd float64) int64 {
	return int64(math.Round(usd * 1_000_000))
}

// Record writes rec to every configured backend. A failure in one backend
// does not prevent the write to the other; the errors are joined.
func (l *Ledger) Record(ctx context.Context, rec Record) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = l.now().UTC()
	}
	var errs []error
	if err := l.recordSpend(ctx, rec); err != nil {
		errs = append(errs, &BackendError{Backend: "redis", Err: err})
	}
	if err := l.insert(ctx, rec); err != nil {
		errs = append(errs, &BackendError{Backend: "postgres", Err: err})
	}
	return errors.Join(errs...)
}

func (l *Ledger) recordSpend(ctx context.Context, rec Record) error {
	if l.rdb == nil {
		return nil
	}

	key := dailyKey(rec.CreatedAt)
	pipe := l.rdb.Pipeline()
	pipe.HIncrBy(ctx, key, "requests", 1)
	if micros := toMicros(rec.TotalCostUSD()); micros > 0 {
		pipe.HIncrBy(ctx, key, "micro_usd", micros)
	}
	// Expire at end of day UTC + 1 hour buffer
	day := rec.CreatedAt.UTC()
	endOfDay := time.Date(day.Year(), day.Month(), day.Day()+1, 0, 0, 0, 0, time.UTC)
	pipe.ExpireAt(ctx, key, endOfDay.Add(time.Hour))
	_, err := pipe.Exec(ctx)
	return err
}

func (l *Ledger) insert(ctx context.Context, rec Record) error {
	if l.db == nil {
		return nil
	}
	_, err := l.db.Exec(ctx, insertUsageSQL,
		rec.RequestID,
		rec.Stream,
		rec.State,
		nullable(rec.ErrorType),
		rec.ReasoningModel,
		rec.ResponseModel,
		rec.ReasoningInputTokens,
		rec.ReasoningOutputTokens,
		rec.ReasoningCachedTokens,
		rec.ResponseInputTokens,
		rec.ResponseOutputTokens,
		rec.ResponseCacheWrite,
		rec.ResponseCacheRead,
		rec.ReasoningCostUSD,
		rec.ResponseCostUSD,
		rec.Duration.Milliseconds(),
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert usage_records: %w", err)
	}
	return nil
}

const insertUsageSQL = `
	INSERT INTO usage_records (
		request_id, stream, state, error_type, reasoning_model, response_model,
		reasoning_input_tokens, reasoning_output_tokens, reasoning_cached_tokens,
		response_input_tokens, response_output_tokens, response_cache_write_tokens, response_cache_read_tokens,
		reasoning_cost_usd, response_cost_usd, duration_ms, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
`

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Today returns the running total for the current UTC day.
func (l *Ledger) Today(ctx context.Context) (Spend, error) {
	return l.DailySpend(ctx, l.now())
}

// DailySpend returns the total for the UTC day containing day. Without Redis
// the result is empty and untracked.
func (l *Ledger) DailySpend(ctx context.Context, day time.Time) (Spend, error) {
	spend := Spend{Day: day.UTC().Format("2006-01-02")}
	if l.rdb == nil {
		return spend, nil
	}
	spend.Tracked = true

	vals, err := l.rdb.HMGet(ctx, dailyKey(day), "requests", "micro_usd").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return spend, &BackendError{Backend: "redis", Err: err}
	}
	if len(vals) == 2 {
		spend.Requests = parseInt(vals[0])
		spend.CostUSD = float64(parseInt(vals[1])) / 1_000_000
	}
	return spend, nil
}

func parseInt(v any) int64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// BackendError identifies which store failed.
type BackendError struct {
	Backend string
	Err     error
}

func (e *BackendError) Error() string { return e.Backend + ": " + e.Err.Error() }
func (e *BackendError) Unwrap() error { return e.Err }
