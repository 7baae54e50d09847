package calls

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound        = errors.New("calls: not found")
	ErrConflict        = errors.New("calls: status conflict")
	ErrDuplicate       = errors.New("calls: duplicate provider recording")
	ErrInvalidArgument = errors.New("calls: invalid argument")
)

// Store is the persistence contract for call records.
// Implementations own their synchronization and are safe for concurrent use.
type Store interface {
	// Insert stores a new pending record, assigning ID and timestamps.
	// Returns ErrDuplicate when ProviderRecordingID is already taken.
	Insert(ctx context.Context, rec CallRecord) (CallRecord, error)
	Get(ctx context.Context, id string) (CallRecord, error)
	// ListAll returns every record, newest first.
	ListAll(ctx context.Context) ([]CallRecord, error)
	// ListByStatus returns up to limit records in the given status, oldest first.
	ListByStatus(ctx context.Context, status Status, limit int) ([]CallRecord, error)
	FindByProviderRecordingID(ctx context.Context, recordingID string) (CallRecord, error)
	// UpdateIfStatus applies m only if the record is currently in expected.
	// Returns ErrConflict without writing when it is not, ErrNotFound when the id is unknown.
	UpdateIfStatus(ctx context.Context, id string, expected Status, m Mutation) (CallRecord, error)
	// RecoverStale moves transcribing records last touched before cutoff back to pending.
	RecoverStale(ctx context.Context, cutoff time.Time) (int, error)
}

func validateInsert(rec CallRecord) error {
	if strings.TrimSpace(rec.RecordingLocator) == "" {
		return fmt.Errorf("%w: recording_locator is required", ErrInvalidArgument)
	}
	if strings.TrimSpace(rec.ProviderCallID) == "" {
		return fmt.Errorf("%w: provider_call_id is required", ErrInvalidArgument)
	}
	if rec.Status != "" && rec.Status != StatusPending {
		return fmt.Errorf("%w: new records must be pending", ErrInvalidArgument)
	}
	if rec.Transcript != nil || rec.Summary != nil {
		return fmt.Errorf("%w: new records carry no results", ErrInvalidArgument)
	}
	return nil
}

func validateUpdate(expected Status, m Mutation) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if !CanTransition(expected, m.Status) {
		return fmt.Errorf("%w: transition %s -> %s", ErrInvalidArgument, expected, m.Status)
	}
	return nil
}

// Requeue moves a failed record back to pending. It is idempotent: a record already
// pending is returned unchanged with moved false. Records in transcribing or done yield ErrConflict.
func Requeue(ctx context.Context, s Store, id string) (rec CallRecord, moved bool, err error) {
	rec, err = s.Get(ctx, id)
	if err != nil {
		return CallRecord{}, false, err
	}
	switch rec.Status {
	case StatusPending:
		return rec, false, nil
	case StatusError:
	default:
		return rec, false, fmt.Errorf("%w: record is %s", ErrConflict, rec.Status)
	}

	out, err := s.UpdateIfStatus(ctx, id, StatusError, To(StatusPending))
	if errors.Is(err, ErrConflict) {
		// A concurrent requeue may have won.
		cur, gerr := s.Get(ctx, id)
		if gerr != nil {
			return CallRecord{}, false, gerr
		}
		if cur.Status == StatusPending {
			return cur, false, nil
		}
		return cur, false, err
	}
	if err != nil {
		return CallRecord{}, false, err
	}
	return out, true, nil
}
