package webhook

import "crypto/subtle"

// SecretHeader is the header the upstream platform echoes the shared
// secret in. The value is matched verbatim against configuration; this
// protocol variant does not sign the body.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// Validator authenticates inbound events against the configured secret.
type Validator struct {
	secret string
}

// NewValidator constructs a Validator. An empty secret disables validation
// entirely; security is an explicit opt-in.
func NewValidator(secret string) *Validator {
	return &Validator{secret: secret}
}

// Verify reports whether the presented token matches the configured
// secret. The comparison is constant time.
func (v *Validator) Verify(presented string) bool {
	if v.secret == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(v.secret)) == 1
}
