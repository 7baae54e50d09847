package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the append-only persistence contract for audit events.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service records operator actions. Audit is internal-only and callers treat
// failures as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s == nil || s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.CompanyID == "" || e.Type == "" {
		return ErrInvalidEvent
	}
	if e.Metadata != "" && !json.Valid([]byte(e.Metadata)) {
		return ErrInvalidEvent
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// Actor identifies who performed an action.
type Actor struct {
	UserID string
	Role   string
	IP     string
}

// LogRequeue records an operator moving a call back to pending.
func (s *Service) LogRequeue(ctx context.Context, companyID, callID, fromStatus string, actor Actor) error {
	meta, err := json.Marshal(map[string]string{"from_status": fromStatus, "to_status": "pending"})
	if err != nil {
		return err
	}
	return s.Append(ctx, Event{
		CompanyID:   companyID,
		Type:        EventTypeCallRequeued,
		ActorUserID: actor.UserID,
		ActorRole:   actor.Role,
		IPAddress:   actor.IP,
		CallID:      callID,
		Message:     "call re-enqueued for transcription",
		Metadata:    string(meta),
	})
}
