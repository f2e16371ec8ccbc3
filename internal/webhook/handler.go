package webhook

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const (
	maxBodyBytes    = 1 << 20
	dispatchTimeout = 30 * time.Second
)

// Dispatcher is the business handler collaborator. It receives admitted
// events only; its internals are out of the admission layer's scope.
type Dispatcher interface {
	Handle(ctx context.Context, event Update, locale, rateLimitKey string) error
}

// Notifier delivers user-facing notices through the messaging platform.
type Notifier interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// Handler serves the inbound webhook and health endpoints. The transport
// is answered as soon as admission is decided; admitted events are
// processed on a detached context so upstream timeouts and retries never
// reach committed business state.
type Handler struct {
	gate            *Gate
	dispatcher      Dispatcher
	notifier        Notifier
	defaultLanguage string
}

// NewHandler constructs a Handler.
func NewHandler(gate *Gate, dispatcher Dispatcher, notifier Notifier, defaultLanguage string) *Handler {
	return &Handler{gate: gate, dispatcher: dispatcher, notifier: notifier, defaultLanguage: defaultLanguage}
}

// RegisterRoutes wires the webhook and health endpoints on the engine.
func (h *Handler) RegisterRoutes(engine *gin.Engine, webhookPath string) {
	engine.POST(webhookPath, h.HandleUpdate)
	engine.GET("/healthz", h.Health)
}

// HandleUpdate triages one inbound event: 401 on signature failure, 200
// otherwise. Rate-limited senders get a notice through the messaging
// platform rather than an error status, so the upstream does not retry
// the same event into a duplicate storm.
func (h *Handler) HandleUpdate(c *gin.Context) {
	body, errRead := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if errRead != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read body failed"})
		return
	}

	outcome, errAdmit := h.gate.Admit(c.Request.Context(), body, c.GetHeader(SecretHeader))
	if errAdmit != nil {
		log.WithError(errAdmit).Error("webhook: admission failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	switch {
	case outcome.Admitted:
		h.dispatch(outcome)
	case outcome.Reason == ReasonUnauthorized:
		log.Warn("webhook: invalid secret token")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	case outcome.Reason == ReasonRateLimited:
		h.notifyRateLimited(outcome.Event)
	}

	c.String(http.StatusOK, "OK")
}

// Health reports whether the service can accept traffic.
func (h *Handler) Health(c *gin.Context) {
	c.Status(http.StatusOK)
}

// dispatch hands an admitted event to the business handler on a detached
// context: the transport has already been answered.
func (h *Handler) dispatch(outcome Outcome) {
	processingID := uuid.NewString()
	locale := h.defaultLanguage
	if sender := outcome.Event.Sender(); sender != nil && sender.LanguageCode != "" {
		locale = sender.LanguageCode
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		defer cancel()
		if errHandle := h.dispatcher.Handle(ctx, outcome.Event, locale, outcome.RateLimitKey); errHandle != nil {
			log.WithError(errHandle).
				WithField("processing_id", processingID).
				WithField("update_id", outcome.Event.UpdateID).
				Error("webhook: dispatch failed")
		}
	}()
}

func (h *Handler) notifyRateLimited(event Update) {
	if h.notifier == nil || event.Message == nil {
		return
	}
	sender := event.Sender()
	locale := h.defaultLanguage
	if sender != nil && sender.LanguageCode != "" {
		locale = sender.LanguageCode
	}
	chatID := event.Message.Chat.ID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if errSend := h.notifier.SendMessage(ctx, chatID, rateLimitedNotice(locale)); errSend != nil {
			log.WithError(errSend).WithField("chat_id", chatID).Warn("webhook: rate limit notice failed")
		}
	}()
}

func rateLimitedNotice(locale string) string {
	if locale == "ru" {
		return "⏱️ Вы отправляете сообщения слишком быстро. Попробуйте позже."
	}
	return "⏱️ You are sending messages too fast. Please try again later."
}
