package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/oklog/ulid/v2"
)

var (
	// ErrStorageConfig means the backend cannot operate with the current configuration.
	// Fatal for the operation, never for the process.
	ErrStorageConfig  = errors.New("storage: misconfigured backend")
	ErrBlobNotFound   = errors.New("storage: blob not found")
	ErrInvalidLocator = errors.New("storage: invalid locator")
	// ErrUnavailable wraps transient backend failures that are worth retrying.
	ErrUnavailable = errors.New("storage: backend unavailable")
)

// Writer persists audio and returns where it went.
type Writer interface {
	Store(ctx context.Context, keyHint string, data []byte) (Locator, error)
}

// Retriever loads audio by locator. Repeated calls return identical bytes.
type Retriever interface {
	Retrieve(ctx context.Context, loc Locator) ([]byte, error)
}

// Backend is one concrete storage implementation.
type Backend interface {
	Writer
	Retriever
	Scheme() Scheme
}

// Router writes to a single primary backend chosen at startup and reads from
// whichever registered backend owns a locator's scheme.
type Router struct {
	primary Backend
	readers map[Scheme]Retriever
}

func NewRouter(primary Backend, extra ...Backend) *Router {
	r := &Router{primary: primary, readers: map[Scheme]Retriever{}}
	for _, b := range extra {
		if b != nil {
			r.readers[b.Scheme()] = b
		}
	}
	if primary != nil {
		r.readers[primary.Scheme()] = primary
	}
	return r
}

func (r *Router) Store(ctx context.Context, keyHint string, data []byte) (Locator, error) {
	if r.primary == nil {
		return Locator{}, fmt.Errorf("%w: no primary backend", ErrStorageConfig)
	}
	return r.primary.Store(ctx, keyHint, data)
}

// Configured reports whether the primary backend can accept writes.
func (r *Router) Configured() error {
	if r.primary == nil {
		return fmt.Errorf("%w: no primary backend", ErrStorageConfig)
	}
	if c, ok := r.primary.(interface{ Configured() error }); ok {
		return c.Configured()
	}
	return nil
}

func (r *Router) Retrieve(ctx context.Context, loc Locator) ([]byte, error) {
	b, ok := r.readers[loc.Scheme]
	if !ok {
		return nil, fmt.Errorf("%w: no backend registered for %q", ErrStorageConfig, loc.Scheme)
	}
	return b.Retrieve(ctx, loc)
}

// RetrieveString parses raw and retrieves it.
func (r *Router) RetrieveString(ctx context.Context, raw string) ([]byte, error) {
	loc, err := ParseLocator(raw)
	if err != nil {
		return nil, err
	}
	return r.Retrieve(ctx, loc)
}

// ObjectName builds a collision-resistant blob name from a caller hint:
// <sanitized-hint>-<ulid><ext>. The ulid keeps names unique across retries of the same call.
func ObjectName(keyHint string) string {
	ext := strings.ToLower(path.Ext(keyHint))
	switch ext {
	case ".wav", ".mp3", ".ogg", ".webm", ".m4a", ".flac":
	default:
		ext = ".wav"
	}
	base := strings.TrimSuffix(path.Base(keyHint), path.Ext(keyHint))
	base = sanitize(base)
	id := strings.ToLower(ulid.Make().String())
	if base == "" {
		return id + ext
	}
	return base + "-" + id + ext
}

func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		}
		if b.Len() >= 64 {
			break
		}
	}
	return b.String()
}
