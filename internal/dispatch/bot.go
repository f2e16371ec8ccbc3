package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/zavod-empire/factory-bot/internal/models"
	"github.com/zavod-empire/factory-bot/internal/referral"
	"github.com/zavod-empire/factory-bot/internal/webhook"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Bot is the default business handler behind the admission gate. It owns
// the commands that touch the referral program; game logic hangs off the
// same entrypoint but lives elsewhere.
type Bot struct {
	db        *gorm.DB
	referrals *referral.Service
	notifier  webhook.Notifier
}

// NewBot constructs a Bot.
func NewBot(db *gorm.DB, referrals *referral.Service, notifier webhook.Notifier) *Bot {
	return &Bot{db: db, referrals: referrals, notifier: notifier}
}

// Handle processes one admitted event. Balance mutation happens only
// through the referral service and its ledger, never directly here.
func (b *Bot) Handle(ctx context.Context, event webhook.Update, locale, _ string) error {
	msg := event.Message
	sender := event.Sender()
	if msg == nil || sender == nil {
		return nil
	}

	if errUpsert := b.ensureUser(ctx, sender, locale); errUpsert != nil {
		return fmt.Errorf("dispatch: ensure user: %w", errUpsert)
	}

	fields := strings.Fields(msg.Text)
	if len(fields) == 0 {
		return nil
	}
	switch fields[0] {
	case "/start":
		if len(fields) > 1 {
			return b.handleJoin(ctx, msg, sender, locale, fields[1])
		}
	case "/invite":
		return b.handleInvite(ctx, msg, sender, locale)
	}
	return nil
}

// ensureUser creates the account row on first contact.
func (b *Bot) ensureUser(ctx context.Context, sender *webhook.User, locale string) error {
	row := models.User{
		ID:        sender.ID,
		Username:  sender.Username,
		FirstName: sender.FirstName,
		LastName:  sender.LastName,
		Language:  locale,
	}
	return b.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoNothing: true,
	}).Create(&row).Error
}

// handleJoin settles a referral for a /start deep link. Settlement is
// idempotent per (code, user), so webhook retries and repeated /start
// taps cannot credit twice.
func (b *Bot) handleJoin(ctx context.Context, msg *webhook.Message, sender *webhook.User, locale, code string) error {
	credited, errSettle := b.referrals.Settle(ctx, code, sender.ID)
	if errSettle != nil {
		return fmt.Errorf("dispatch: settle referral: %w", errSettle)
	}
	if credited == 0 {
		return nil
	}
	b.send(ctx, msg.Chat.ID, joinedNotice(locale, credited/2))
	return nil
}

func (b *Bot) handleInvite(ctx context.Context, msg *webhook.Message, sender *webhook.User, locale string) error {
	link, errLink := b.referrals.Link(ctx, sender.ID)
	if errLink != nil {
		return fmt.Errorf("dispatch: referral link: %w", errLink)
	}
	b.send(ctx, msg.Chat.ID, inviteNotice(locale, link))
	return nil
}

func (b *Bot) send(ctx context.Context, chatID int64, text string) {
	if b.notifier == nil {
		return
	}
	if errSend := b.notifier.SendMessage(ctx, chatID, text); errSend != nil {
		log.WithError(errSend).WithField("chat_id", chatID).Warn("dispatch: send message")
	}
}

func joinedNotice(locale string, bonus int64) string {
	if locale == "ru" {
		return fmt.Sprintf("🎁 Бонус за приглашение зачислен: +%d", bonus)
	}
	return fmt.Sprintf("🎁 Referral bonus credited: +%d", bonus)
}

func inviteNotice(locale, link string) string {
	if locale == "ru" {
		return "🔗 Ваша реферальная ссылка: " + link
	}
	return "🔗 Your referral link: " + link
}
