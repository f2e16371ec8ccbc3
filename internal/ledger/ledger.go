package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zavod-empire/factory-bot/internal/models"
	log "github.com/sirupsen/logrus"
)

// ErrStaleIdempotencyLock indicates another process inserted the record but
// never committed it within the wait budget. Retryable by the caller; never
// treated as success.
var ErrStaleIdempotencyLock = errors.New("ledger: stale idempotency lock")

// ErrInsufficientBalance indicates a debit would take a balance below zero.
var ErrInsufficientBalance = errors.New("ledger: insufficient balance")

// ErrAccountNotFound indicates the effect targets a user that does not exist.
var ErrAccountNotFound = errors.New("ledger: account not found")

// Effect is a balance-changing operation. Amount is a signed delta in minor
// units; debits beyond the current balance fail instead of underflowing.
type Effect struct {
	UserID   int64
	Currency string // models.CurrencySoft or models.CurrencyHard.
	Amount   int64
	Reason   string
}

// Result is the committed outcome of an effect, stored with the record so
// every caller of the same key observes the same value.
type Result struct {
	NewBalance int64 `json:"new_balance"`
	Amount     int64 `json:"amount"`
}

// Store is the durable ledger backend. Uniqueness of the idempotency key is
// enforced by the store, not by process-local locking, so the at-most-once
// guarantee survives crashes between insert and commit.
type Store interface {
	// InsertIfAbsent records a pending entry for key. When the key already
	// exists it returns inserted=false and the existing entry.
	InsertIfAbsent(ctx context.Context, key string, effect Effect) (inserted bool, existing *models.LedgerEntry, err error)
	// UpdateBalance applies a signed delta to the user's balance and
	// returns the new value. It never lets a balance go negative.
	UpdateBalance(ctx context.Context, userID int64, currency string, delta int64) (int64, error)
	// MarkApplied commits the result for key; the record is immutable after.
	MarkApplied(ctx context.Context, key string, result Result) error
	// Find returns the entry for key, or nil when absent.
	Find(ctx context.Context, key string) (*models.LedgerEntry, error)
	// Release removes an uncommitted entry so a failed effect does not
	// poison its key forever.
	Release(ctx context.Context, key string) error
}

const (
	applyPollInterval = 250 * time.Millisecond
	applyMaxPolls     = 8
)

// Ledger applies balance effects at most once per idempotency key.
type Ledger struct {
	store        Store
	pollInterval time.Duration
	maxPolls     int
}

// New constructs a Ledger over a durable store.
func New(store Store) *Ledger {
	return &Ledger{store: store, pollInterval: applyPollInterval, maxPolls: applyMaxPolls}
}

// Apply runs effect under key at most once. The returned bool reports
// whether this call performed the effect; duplicate calls get the
// previously committed Result. Concurrent callers racing a committer wait a
// bounded time for the record to flip to applied, then fail with
// ErrStaleIdempotencyLock.
func (l *Ledger) Apply(ctx context.Context, key string, effect Effect) (Result, bool, error) {
	if key == "" {
		return Result{}, false, fmt.Errorf("ledger: empty idempotency key")
	}
	if effect.Currency != models.CurrencySoft && effect.Currency != models.CurrencyHard {
		return Result{}, false, fmt.Errorf("ledger: unknown currency %q", effect.Currency)
	}

	inserted, existing, errInsert := l.store.InsertIfAbsent(ctx, key, effect)
	if errInsert != nil {
		return Result{}, false, fmt.Errorf("ledger: insert record: %w", errInsert)
	}
	if !inserted {
		result, errWait := l.awaitCommitted(ctx, key, existing)
		return result, false, errWait
	}

	newBalance, errBalance := l.store.UpdateBalance(ctx, effect.UserID, effect.Currency, effect.Amount)
	if errBalance != nil {
		// The effect failed cleanly, so free the key for future retries.
		if errRelease := l.store.Release(ctx, key); errRelease != nil {
			log.WithError(errRelease).WithField("key", key).Warn("ledger: release failed record")
		}
		return Result{}, false, errBalance
	}

	result := Result{NewBalance: newBalance, Amount: effect.Amount}
	if errMark := l.store.MarkApplied(ctx, key, result); errMark != nil {
		return Result{}, false, fmt.Errorf("ledger: mark applied: %w", errMark)
	}
	return result, true, nil
}

// awaitCommitted polls an existing record until it is applied or the wait
// budget runs out.
func (l *Ledger) awaitCommitted(ctx context.Context, key string, existing *models.LedgerEntry) (Result, error) {
	entry := existing
	for attempt := 0; ; attempt++ {
		if entry != nil && entry.Applied {
			return decodeResult(entry)
		}
		if attempt >= l.maxPolls {
			return Result{}, ErrStaleIdempotencyLock
		}
		timer := time.NewTimer(l.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Result{}, ctx.Err()
		case <-timer.C:
		}
		found, errFind := l.store.Find(ctx, key)
		if errFind != nil {
			return Result{}, fmt.Errorf("ledger: poll record: %w", errFind)
		}
		entry = found
	}
}

func decodeResult(entry *models.LedgerEntry) (Result, error) {
	var result Result
	if errUnmarshal := json.Unmarshal(entry.Result, &result); errUnmarshal != nil {
		return Result{}, fmt.Errorf("ledger: decode stored result: %w", errUnmarshal)
	}
	return result, nil
}
