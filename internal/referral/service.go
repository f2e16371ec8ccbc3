package referral

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/zavod-empire/factory-bot/internal/counter"
	"github.com/zavod-empire/factory-bot/internal/ledger"
	"github.com/zavod-empire/factory-bot/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ErrCodeGenerationExhausted indicates repeated code collisions; surfaced,
// never silently defaulted.
var ErrCodeGenerationExhausted = errors.New("referral: code generation exhausted")

const (
	codeGenerationRetries = 3
	linkCacheTTL          = time.Hour
)

// Config holds referral program settings.
type Config struct {
	BonusAmount int64  // Referrer bonus; joiner receives half, rounded down.
	DailyCap    int64  // Max settled referrals per referrer per UTC day.
	BotName     string // Bot username for deep links.
}

// Service issues referral codes and settles bonuses exactly once per
// joining user.
type Service struct {
	db       *gorm.DB
	counters counter.Store
	ledger   *ledger.Ledger
	cfg      Config
	nowFn    func() time.Time
}

// NewService constructs a Service.
func NewService(db *gorm.DB, counters counter.Store, l *ledger.Ledger, cfg Config, nowFn func() time.Time) *Service {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Service{db: db, counters: counters, ledger: l, cfg: cfg, nowFn: nowFn}
}

// Code returns the owner's referral code, issuing one on first use. The
// store's unique index resolves generation races; on collision a fresh code
// is generated up to a bounded number of retries.
func (s *Service) Code(ctx context.Context, ownerID int64) (string, error) {
	var existing models.Referral
	errFind := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).First(&existing).Error
	if errFind == nil {
		return existing.Code, nil
	}
	if !errors.Is(errFind, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("referral: lookup code: %w", errFind)
	}

	for attempt := 0; attempt < codeGenerationRetries; attempt++ {
		code, errGenerate := generateCode()
		if errGenerate != nil {
			return "", errGenerate
		}
		row := models.Referral{Code: code, OwnerID: ownerID, BonusAmount: s.cfg.BonusAmount}
		errCreate := s.db.WithContext(ctx).Create(&row).Error
		if errCreate == nil {
			return code, nil
		}
		if !isUniqueViolation(errCreate) {
			return "", fmt.Errorf("referral: create code: %w", errCreate)
		}
		// The owner may have won a concurrent issue race; reuse their code.
		if errRace := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).First(&existing).Error; errRace == nil {
			return existing.Code, nil
		}
	}
	return "", ErrCodeGenerationExhausted
}

// Link returns the owner's referral deep link, cached in the counter store.
func (s *Service) Link(ctx context.Context, ownerID int64) (string, error) {
	cacheKey := fmt.Sprintf("referral:link:%d", ownerID)
	if cached, ok, errGet := s.counters.Get(ctx, cacheKey); errGet == nil && ok {
		return cached, nil
	}

	code, errCode := s.Code(ctx, ownerID)
	if errCode != nil {
		return "", errCode
	}
	link := fmt.Sprintf("https://t.me/%s?start=%s", s.cfg.BotName, code)
	if errSet := s.counters.SetWithTTL(ctx, cacheKey, link, linkCacheTTL); errSet != nil {
		log.WithError(errSet).Warn("referral: cache link")
	}
	return link, nil
}

// Settle credits the referrer and the joining user for a referral, at most
// once per (code, joiner) pair. Unknown codes and cap-exhausted referrers
// settle to zero without side effects; store failures return an error so a
// zero credit is never conflated with a failure.
func (s *Service) Settle(ctx context.Context, code string, newUserID int64) (int64, error) {
	code = strings.TrimSpace(code)
	if code == "" || newUserID == 0 {
		return 0, nil
	}

	var rel models.Referral
	errFind := s.db.WithContext(ctx).Where("code = ?", code).First(&rel).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if errFind != nil {
		return 0, fmt.Errorf("referral: lookup relationship: %w", errFind)
	}
	if rel.OwnerID == newUserID {
		return 0, nil
	}

	bonus := rel.BonusAmount
	if bonus <= 0 {
		return 0, nil
	}

	now := s.nowFn().UTC()
	dayKey := fmt.Sprintf("referral:daily:%d:%s", rel.OwnerID, now.Format("20060102"))
	_, withinCap, errIncr := s.counters.IncrCapped(ctx, dayKey, s.cfg.DailyCap, untilNextMidnight(now))
	if errIncr != nil {
		// Fail closed: an unreachable counter store must not waive the cap.
		return 0, fmt.Errorf("referral: daily cap check: %w", errIncr)
	}
	if !withinCap {
		return 0, nil
	}

	keyBase := settlementKey(code, newUserID)

	referrerResult, referrerApplied, errReferrer := s.ledger.Apply(ctx, keyBase+":referrer", ledger.Effect{
		UserID:   rel.OwnerID,
		Currency: models.CurrencySoft,
		Amount:   bonus,
		Reason:   "referral",
	})
	if errReferrer != nil {
		s.compensateCap(ctx, dayKey)
		return 0, errReferrer
	}
	if !referrerApplied {
		// A retry of an already-settled join: give the cap slot back.
		s.compensateCap(ctx, dayKey)
	}

	if _, _, errJoiner := s.ledger.Apply(ctx, keyBase+":joiner", ledger.Effect{
		UserID:   newUserID,
		Currency: models.CurrencySoft,
		Amount:   bonus / 2,
		Reason:   "referral-welcome",
	}); errJoiner != nil {
		return 0, errJoiner
	}

	if referrerApplied {
		if errCount := s.db.WithContext(ctx).Model(&models.User{}).
			Where("id = ?", rel.OwnerID).
			UpdateColumn("total_referrals", gorm.Expr("total_referrals + 1")).Error; errCount != nil {
			log.WithError(errCount).WithField("owner_id", rel.OwnerID).Warn("referral: bump total_referrals")
		}
		if errInviter := s.db.WithContext(ctx).Model(&models.User{}).
			Where("id = ? AND invited_by_id IS NULL", newUserID).
			UpdateColumn("invited_by_id", rel.OwnerID).Error; errInviter != nil {
			log.WithError(errInviter).WithField("user_id", newUserID).Warn("referral: record inviter")
		}
	}

	return referrerResult.Amount, nil
}

func (s *Service) compensateCap(ctx context.Context, dayKey string) {
	if errDecr := s.counters.Decr(ctx, dayKey); errDecr != nil {
		log.WithError(errDecr).WithField("key", dayKey).Warn("referral: compensate daily cap")
	}
}

// settlementKey derives the idempotency key base for a (code, joiner) pair.
func settlementKey(code string, newUserID int64) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%d", code, newUserID))
	return hex.EncodeToString(sum[:16])
}

func generateCode() (string, error) {
	raw := make([]byte, 8)
	if _, errRead := rand.Read(raw); errRead != nil {
		return "", fmt.Errorf("referral: generate code: %w", errRead)
	}
	return strings.ToUpper(hex.EncodeToString(raw)), nil
}

func untilNextMidnight(now time.Time) time.Duration {
	midnight := now.Truncate(24 * time.Hour).Add(24 * time.Hour)
	return midnight.Sub(now)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique")
}
