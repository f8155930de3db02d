package user

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hitoshi/taskman/internal/model"
)

// 外部IdPのユーザーイベント種別
const (
	EventUserCreated = "user.created"
	EventUserUpdated = "user.updated"
	EventUserDeleted = "user.deleted"
)

// IdentityEvent は外部IdPから届いたユーザーのライフサイクルイベント。
type IdentityEvent struct {
	Type string
	User model.ExternalUser
}

type webhookPayload struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type webhookUser struct {
	ID                    string         `json:"id"`
	Username              *string        `json:"username"`
	FirstName             *string        `json:"first_name"`
	LastName              *string        `json:"last_name"`
	PrimaryEmailAddressID *string        `json:"primary_email_address_id"`
	EmailAddresses        []webhookEmail `json:"email_addresses"`
}

type webhookEmail struct {
	ID           string `json:"id"`
	EmailAddress string `json:"email_address"`
}

// ParseIdentityEvent は署名検証済みのWebhookペイロードをIdentityEventに変換する。
// 名前はusername、なければ姓名から組み立てる。メールアドレスは主アドレス、なければ先頭を使う。
func ParseIdentityEvent(payload []byte) (*IdentityEvent, error) {
	var p webhookPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("invalid webhook payload: %w", err)
	}
	if p.Type == "" {
		return nil, fmt.Errorf("invalid webhook payload: missing type")
	}

	event := &IdentityEvent{Type: p.Type}
	if len(p.Data) == 0 || string(p.Data) == "null" {
		return event, nil
	}

	var u webhookUser
	if err := json.Unmarshal(p.Data, &u); err != nil {
		return nil, fmt.Errorf("invalid webhook user data: %w", err)
	}

	event.User = model.ExternalUser{
		ExternalID: u.ID,
		Name:       displayName(u),
		Email:      primaryEmail(u),
	}
	return event, nil
}

func displayName(u webhookUser) string {
	if u.Username != nil && strings.TrimSpace(*u.Username) != "" {
		return strings.TrimSpace(*u.Username)
	}
	var parts []string
	for _, p := range []*string{u.FirstName, u.LastName} {
		if p != nil && strings.TrimSpace(*p) != "" {
			parts = append(parts, strings.TrimSpace(*p))
		}
	}
	return strings.Join(parts, " ")
}

func primaryEmail(u webhookUser) string {
	if u.PrimaryEmailAddressID != nil {
		for _, e := range u.EmailAddresses {
			if e.ID == *u.PrimaryEmailAddressID {
				return e.EmailAddress
			}
		}
	}
	if len(u.EmailAddresses) > 0 {
		return u.EmailAddresses[0].EmailAddress
	}
	return ""
}
