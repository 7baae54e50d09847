package audit

import "time"

// Event is an append-only audit record. Events are never updated or deleted.
// Actor and IP capture are best-effort.
type Event struct {
	ID        string    `json:"id"`
	CompanyID string    `json:"company_id"`
	Type      EventType `json:"type"`

	ActorUserID string `json:"actor_user_id,omitempty"`
	ActorRole   string `json:"actor_role,omitempty"`
	// IPAddress is the resolved client IP.
	IPAddress string `json:"ip_address,omitempty"`

	CallID  string `json:"call_id,omitempty"`
	Message string `json:"message,omitempty"`
	// Metadata is optional JSON.
	Metadata string `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

type EventType string

const (
	EventTypeCallRequeued EventType = "call_requeued"
	EventTypeAdminAction  EventType = "admin_action"
)
