package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zavod-empire/factory-bot/internal/ratelimit"
)

type recordedDispatch struct {
	event        Update
	locale       string
	rateLimitKey string
}

type fakeDispatcher struct {
	calls chan recordedDispatch
}

func (d *fakeDispatcher) Handle(_ context.Context, event Update, locale, rateLimitKey string) error {
	d.calls <- recordedDispatch{event: event, locale: locale, rateLimitKey: rateLimitKey}
	return nil
}

type fakeNotifier struct {
	calls chan string
}

func (n *fakeNotifier) SendMessage(_ context.Context, _ int64, text string) error {
	n.calls <- text
	return nil
}

func newTestHandler(t *testing.T, secret string, capacity int) (*gin.Engine, *fakeDispatcher, *fakeNotifier) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	manager, err := ratelimit.NewManager(ratelimit.Bucket{Capacity: capacity, RefillPerSec: 0}, nil, "", nil)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	dispatcher := &fakeDispatcher{calls: make(chan recordedDispatch, 8)}
	notifier := &fakeNotifier{calls: make(chan string, 8)}
	handler := NewHandler(NewGate(NewValidator(secret), manager), dispatcher, notifier, "ru")

	engine := gin.New()
	handler.RegisterRoutes(engine, "/webhook")
	return engine, dispatcher, notifier
}

func postUpdate(engine *gin.Engine, body, secret string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	if secret != "" {
		req.Header.Set(SecretHeader, secret)
	}
	engine.ServeHTTP(w, req)
	return w
}

const userUpdate = `{"update_id":1,"message":{"message_id":10,"from":{"id":7,"language_code":"en"},"chat":{"id":7},"text":"hi"}}`

func TestHandleUpdate_InvalidSecret(t *testing.T) {
	engine, dispatcher, _ := newTestHandler(t, "right", 10)

	w := postUpdate(engine, userUpdate, "wrong")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	select {
	case <-dispatcher.calls:
		t.Fatalf("rejected event must not reach the business handler")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHandleUpdate_AdmittedReachesDispatcher(t *testing.T) {
	engine, dispatcher, _ := newTestHandler(t, "right", 10)

	w := postUpdate(engine, userUpdate, "right")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	select {
	case call := <-dispatcher.calls:
		if call.event.UpdateID != 1 {
			t.Fatalf("unexpected event %+v", call.event)
		}
		if call.locale != "en" {
			t.Fatalf("expected sender locale en, got %q", call.locale)
		}
		if call.rateLimitKey != "u:7" {
			t.Fatalf("expected rate limit key u:7, got %q", call.rateLimitKey)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected dispatch of admitted event")
	}
}

func TestHandleUpdate_RateLimitedStill200WithNotice(t *testing.T) {
	engine, dispatcher, notifier := newTestHandler(t, "", 1)

	if w := postUpdate(engine, userUpdate, ""); w.Code != http.StatusOK {
		t.Fatalf("expected first request 200, got %d", w.Code)
	}
	<-dispatcher.calls

	w := postUpdate(engine, userUpdate, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 on rate-limited request, got %d", w.Code)
	}
	select {
	case <-dispatcher.calls:
		t.Fatalf("rate-limited event must not reach the business handler")
	case text := <-notifier.calls:
		if !strings.Contains(text, "too fast") {
			t.Fatalf("expected localized notice, got %q", text)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected a user-facing rate limit notice")
	}
}

func TestHandleUpdate_SystemEventSkipsRateLimit(t *testing.T) {
	engine, dispatcher, _ := newTestHandler(t, "", 1)

	// No attributable sender: admitted repeatedly despite capacity 1.
	system := `{"update_id":2}`
	for i := 0; i < 3; i++ {
		if w := postUpdate(engine, system, ""); w.Code != http.StatusOK {
			t.Fatalf("expected 200 for system event, got %d", w.Code)
		}
		select {
		case call := <-dispatcher.calls:
			if call.rateLimitKey != "" {
				t.Fatalf("expected empty rate limit key, got %q", call.rateLimitKey)
			}
		case <-time.After(time.Second):
			t.Fatalf("expected system event dispatched")
		}
	}
}

func TestHandleUpdate_MalformedBody(t *testing.T) {
	engine, _, _ := newTestHandler(t, "", 10)

	w := postUpdate(engine, "{not json", "")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for malformed body, got %d", w.Code)
	}
}

func TestHealth(t *testing.T) {
	engine, _, _ := newTestHandler(t, "", 10)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}
