package webhook

import (
	"context"
	"errors"

	"github.com/zavod-empire/factory-bot/internal/ratelimit"
	log "github.com/sirupsen/logrus"
)

// Reason explains why an event was rejected.
type Reason string

const (
	// ReasonUnauthorized marks a failed signature check.
	ReasonUnauthorized Reason = "unauthorized"
	// ReasonRateLimited marks a denied admission budget check.
	ReasonRateLimited Reason = "rate_limited"
)

// Outcome is the admission decision for one inbound event.
type Outcome struct {
	Admitted     bool
	Reason       Reason
	Event        Update
	RateLimitKey string
}

// Gate composes signature validation and rate limiting into a single
// accept/reject decision, taken before any business logic runs. Denial is
// immediate; the gate never blocks or backs off on the caller's behalf.
type Gate struct {
	validator *Validator
	limiter   *ratelimit.Manager
}

// NewGate constructs a Gate.
func NewGate(validator *Validator, limiter *ratelimit.Manager) *Gate {
	return &Gate{validator: validator, limiter: limiter}
}

// Admit decides whether the event in body may proceed. Parse failures are
// returned as errors; rejections are reported in the Outcome.
func (g *Gate) Admit(ctx context.Context, body []byte, presentedSecret string) (Outcome, error) {
	if !g.validator.Verify(presentedSecret) {
		return Outcome{Reason: ReasonUnauthorized}, nil
	}

	event, errParse := ParseUpdate(body)
	if errParse != nil {
		return Outcome{}, errParse
	}

	sender := event.Sender()
	if sender == nil {
		// System events without an attributable sender skip rate limiting.
		return Outcome{Admitted: true, Event: event}, nil
	}

	key := ratelimit.SenderKey(sender.ID)
	result, errAllow := g.limiter.Allow(ctx, key)
	if errAllow != nil {
		if !errors.Is(errAllow, ratelimit.ErrStoreUnavailable) {
			return Outcome{}, errAllow
		}
		// Fail closed: deny rather than admit unmetered traffic.
		log.WithField("key", key).Warn("admission: counter store unavailable, rejecting")
		return Outcome{Reason: ReasonRateLimited, Event: event, RateLimitKey: key}, nil
	}
	if !result.Allowed {
		return Outcome{Reason: ReasonRateLimited, Event: event, RateLimitKey: key}, nil
	}
	return Outcome{Admitted: true, Event: event, RateLimitKey: key}, nil
}
