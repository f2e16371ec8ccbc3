package referral

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/zavod-empire/factory-bot/internal/counter"
	"github.com/zavod-empire/factory-bot/internal/ledger"
	"github.com/zavod-empire/factory-bot/internal/models"
	"gorm.io/gorm"
)

func newTestService(t *testing.T, cfg Config) (*Service, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := db.AutoMigrate(&models.User{}, &models.Referral{}, &models.LedgerEntry{}); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := NewService(db, counter.NewMemoryStore(), ledger.New(ledger.NewGormStore(db)), cfg, func() time.Time { return now })
	return svc, db
}

func seedUser(t *testing.T, db *gorm.DB, id int64) {
	t.Helper()
	if err := db.Create(&models.User{ID: id}).Error; err != nil {
		t.Fatalf("seed user %d: %v", id, err)
	}
}

func softBalance(t *testing.T, db *gorm.DB, id int64) int64 {
	t.Helper()
	var user models.User
	if err := db.First(&user, "id = ?", id).Error; err != nil {
		t.Fatalf("find user %d: %v", id, err)
	}
	return user.SoftBalance
}

func TestSettle_CreditsOnceExactly(t *testing.T) {
	svc, db := newTestService(t, Config{BonusAmount: 50, DailyCap: 100, BotName: "zavod_empire_bot"})
	seedUser(t, db, 100)
	seedUser(t, db, 200)
	if err := db.Create(&models.Referral{Code: "ABCD1234", OwnerID: 100, BonusAmount: 50}).Error; err != nil {
		t.Fatalf("seed referral: %v", err)
	}
	ctx := context.Background()

	credited, err := svc.Settle(ctx, "ABCD1234", 200)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if credited != 50 {
		t.Fatalf("expected credited 50, got %d", credited)
	}
	if got := softBalance(t, db, 100); got != 50 {
		t.Fatalf("expected referrer balance 50, got %d", got)
	}
	if got := softBalance(t, db, 200); got != 25 {
		t.Fatalf("expected joiner balance 25, got %d", got)
	}

	// Repeating the same joining event credits nothing further.
	if _, errRepeat := svc.Settle(ctx, "ABCD1234", 200); errRepeat != nil {
		t.Fatalf("repeat settle: %v", errRepeat)
	}
	if got := softBalance(t, db, 100); got != 50 {
		t.Fatalf("expected referrer balance still 50, got %d", got)
	}
	if got := softBalance(t, db, 200); got != 25 {
		t.Fatalf("expected joiner balance still 25, got %d", got)
	}
}

func TestSettle_UnknownCode(t *testing.T) {
	svc, db := newTestService(t, Config{BonusAmount: 50, DailyCap: 100})
	seedUser(t, db, 200)

	credited, err := svc.Settle(context.Background(), "NOPE", 200)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if credited != 0 {
		t.Fatalf("expected 0 for unknown code, got %d", credited)
	}
	if got := softBalance(t, db, 200); got != 0 {
		t.Fatalf("expected no side effect, balance %d", got)
	}
}

func TestSettle_DailyCap(t *testing.T) {
	svc, db := newTestService(t, Config{BonusAmount: 50, DailyCap: 1})
	seedUser(t, db, 100)
	seedUser(t, db, 200)
	seedUser(t, db, 300)
	if err := db.Create(&models.Referral{Code: "CAP1", OwnerID: 100, BonusAmount: 50}).Error; err != nil {
		t.Fatalf("seed referral: %v", err)
	}
	ctx := context.Background()

	if credited, _ := svc.Settle(ctx, "CAP1", 200); credited != 50 {
		t.Fatalf("expected first settle credited, got %d", credited)
	}
	credited, err := svc.Settle(ctx, "CAP1", 300)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if credited != 0 {
		t.Fatalf("expected cap-exhausted settle to credit 0, got %d", credited)
	}
	if got := softBalance(t, db, 300); got != 0 {
		t.Fatalf("expected no joiner credit past cap, balance %d", got)
	}
}

func TestSettle_RetryDoesNotConsumeCap(t *testing.T) {
	svc, db := newTestService(t, Config{BonusAmount: 50, DailyCap: 2})
	seedUser(t, db, 100)
	seedUser(t, db, 200)
	seedUser(t, db, 300)
	if err := db.Create(&models.Referral{Code: "CAP2", OwnerID: 100, BonusAmount: 50}).Error; err != nil {
		t.Fatalf("seed referral: %v", err)
	}
	ctx := context.Background()

	if _, err := svc.Settle(ctx, "CAP2", 200); err != nil {
		t.Fatalf("settle: %v", err)
	}
	// Duplicate retries of the first join must not eat the remaining slot.
	for i := 0; i < 3; i++ {
		if _, err := svc.Settle(ctx, "CAP2", 200); err != nil {
			t.Fatalf("retry settle: %v", err)
		}
	}
	if credited, _ := svc.Settle(ctx, "CAP2", 300); credited != 50 {
		t.Fatalf("expected second joiner still within cap, got %d", credited)
	}
}

func TestSettle_SelfReferral(t *testing.T) {
	svc, db := newTestService(t, Config{BonusAmount: 50, DailyCap: 100})
	seedUser(t, db, 100)
	if err := db.Create(&models.Referral{Code: "SELF", OwnerID: 100, BonusAmount: 50}).Error; err != nil {
		t.Fatalf("seed referral: %v", err)
	}

	credited, err := svc.Settle(context.Background(), "SELF", 100)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if credited != 0 || softBalance(t, db, 100) != 0 {
		t.Fatalf("expected self referral to settle 0 with no credit")
	}
}

func TestCode_StableAcrossCalls(t *testing.T) {
	svc, db := newTestService(t, Config{BonusAmount: 50, DailyCap: 100})
	seedUser(t, db, 100)
	ctx := context.Background()

	first, err := svc.Code(ctx, 100)
	if err != nil {
		t.Fatalf("code: %v", err)
	}
	if len(first) != 16 {
		t.Fatalf("expected 16-char code, got %q", first)
	}
	second, err := svc.Code(ctx, 100)
	if err != nil {
		t.Fatalf("code: %v", err)
	}
	if first != second {
		t.Fatalf("expected stable code, got %q then %q", first, second)
	}
}

func TestLink_UsesBotName(t *testing.T) {
	svc, db := newTestService(t, Config{BonusAmount: 50, DailyCap: 100, BotName: "zavod_empire_bot"})
	seedUser(t, db, 100)

	link, err := svc.Link(context.Background(), 100)
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	code, errCode := svc.Code(context.Background(), 100)
	if errCode != nil {
		t.Fatalf("code: %v", errCode)
	}
	want := "https://t.me/zavod_empire_bot?start=" + code
	if link != want {
		t.Fatalf("expected %q, got %q", want, link)
	}
}
