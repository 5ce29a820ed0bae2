// Package ghl models GoHighLevel connections and validates the webhooks
// GoHighLevel posts back.
package ghl

import (
	"time"
)

type AccountStatus string

const (
	StatusDisconnected AccountStatus = "disconnected"
	StatusConnected    AccountStatus = "connected"
	StatusError        AccountStatus = "error"
	StatusPending      AccountStatus = "pending_authorization"
)

type Tier string

const (
	TierStarter      Tier = "starter"
	TierProfessional Tier = "professional"
	TierAgency       Tier = "agency"
	TierEnterprise   Tier = "enterprise"
)

type WebhookEventType string

const (
	EventContactCreated       WebhookEventType = "contact.added"
	EventContactUpdated       WebhookEventType = "contact.updated"
	EventContactDeleted       WebhookEventType = "contact.deleted"
	EventCalendarEventCreated WebhookEventType = "calendar.event.created"
	EventCalendarEventUpdated WebhookEventType = "calendar.event.updated"
	EventCalendarEventDeleted WebhookEventType = "calendar.event.deleted"
	EventOpportunityCreated   WebhookEventType = "opportunity.created"
	EventOpportunityUpdated   WebhookEventType = "opportunity.updated"
	EventTaskCompleted        WebhookEventType = "task.completed"
)

var knownEvents = map[WebhookEventType]struct{}{
	EventContactCreated: {}, EventContactUpdated: {}, EventContactDeleted: {},
	EventCalendarEventCreated: {}, EventCalendarEventUpdated: {}, EventCalendarEventDeleted: {},
	EventOpportunityCreated: {}, EventOpportunityUpdated: {}, EventTaskCompleted: {},
}

func ParseEventType(s string) (WebhookEventType, bool) {
	t := WebhookEventType(s)
	_, ok := knownEvents[t]
	return t, ok
}

// refreshWindow is how long before expiry a token counts as due for refresh.
const refreshWindow = 5 * time.Minute

// Account is a connected GoHighLevel account. Tokens never leave the
// process in JSON.
type Account struct {
	ID           string         `json:"id"`
	UserID       string         `json:"user_id" validate:"required"`
	GHLAccountID string         `json:"ghl_account_id" validate:"required"`
	LocationID   string         `json:"location_id" validate:"required"`
	Name         string         `json:"name" validate:"required,max=200"`
	Tier         Tier           `json:"tier" validate:"required,oneof=starter professional agency enterprise"`
	Status       AccountStatus  `json:"status"`
	AccessToken  string         `json:"-"`
	RefreshToken string         `json:"-"`
	ExpiresAt    *time.Time     `json:"expires_at,omitempty"`
	Metadata     map[string]any `json:"metadata"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// NeedsRefresh reports whether the access token expires within five
// minutes of now. Accounts without an expiry never need a refresh.
func (a Account) NeedsRefresh(now time.Time) bool {
	if a.ExpiresAt == nil {
		return false
	}
	return !now.Add(refreshWindow).Before(*a.ExpiresAt)
}

// Subaccount is a GoHighLevel location under an account.
type Subaccount struct {
	ID           string         `json:"id"`
	GHLAccountID string         `json:"ghl_account_id"`
	LocationID   string         `json:"location_id" validate:"required"`
	Name         string         `json:"name" validate:"required,max=200"`
	Timezone     string         `json:"timezone" validate:"required,tzname"`
	IsActive     bool           `json:"is_active"`
	Metadata     map[string]any `json:"metadata"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

type WebhookEvent struct {
	ID           string           `json:"id"`
	EventType    WebhookEventType `json:"event_type"`
	GHLAccountID string           `json:"ghl_account_id"`
	LocationID   string           `json:"location_id"`
	ResourceID   string           `json:"resource_id"`
	Payload      map[string]any   `json:"payload"`
	Processed    bool             `json:"processed"`
	ProcessedAt  *time.Time       `json:"processed_at,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

func (e *WebhookEvent) MarkProcessed(now time.Time) {
	e.Processed = true
	e.ProcessedAt = &now
}
