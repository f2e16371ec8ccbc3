package webhook

import (
	"encoding/json"
	"fmt"
)

// Update is one inbound event from the messaging platform. It is a
// transient value owned by the admission gate until handoff; nothing in
// this package stores it.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message"`
}

// Message is the message payload of an update.
type Message struct {
	MessageID int64  `json:"message_id"`
	From      *User  `json:"from"`
	Chat      Chat   `json:"chat"`
	Text      string `json:"text"`
}

// User identifies the sender of a message.
type User struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	LanguageCode string `json:"language_code"`
}

// Chat identifies the conversation a message belongs to.
type Chat struct {
	ID int64 `json:"id"`
}

// Sender returns the attributable sender of the update, or nil for system
// events without one.
func (u Update) Sender() *User {
	if u.Message == nil {
		return nil
	}
	return u.Message.From
}

// ParseUpdate decodes an update body.
func ParseUpdate(body []byte) (Update, error) {
	var update Update
	if errUnmarshal := json.Unmarshal(body, &update); errUnmarshal != nil {
		return Update{}, fmt.Errorf("webhook: parse update: %w", errUnmarshal)
	}
	return update, nil
}
