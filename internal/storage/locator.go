package storage

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// Scheme identifies which backend owns a locator.
type Scheme string

const (
	SchemeLocal  Scheme = "local"
	SchemeObject Scheme = "gs"
)

// Locator is a self-describing reference to a stored blob.
// Exactly one of Path (local) or Bucket+Key (object) is meaningful, selected by Scheme.
type Locator struct {
	Scheme Scheme
	Path   string
	Bucket string
	Key    string
}

// Local returns a locator for an absolute filesystem path.
func Local(path string) Locator {
	return Locator{Scheme: SchemeLocal, Path: filepath.Clean(path)}
}

// Object returns a locator for an object in a bucket.
func Object(bucket, key string) Locator {
	return Locator{Scheme: SchemeObject, Bucket: bucket, Key: strings.TrimPrefix(key, "/")}
}

// String renders the locator as local:///abs/path or gs://bucket/key.
func (l Locator) String() string {
	switch l.Scheme {
	case SchemeLocal:
		return "local://" + filepath.ToSlash(l.Path)
	case SchemeObject:
		return "gs://" + l.Bucket + "/" + l.Key
	default:
		return ""
	}
}

// ParseLocator accepts local:///path, file:///path, gs://bucket/key and bare absolute paths.
// Bare paths and file:// are accepted for rows written before locators were tagged.
func ParseLocator(raw string) (Locator, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Locator{}, fmt.Errorf("%w: empty", ErrInvalidLocator)
	}
	if strings.HasPrefix(raw, "/") {
		return Local(raw), nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Locator{}, fmt.Errorf("%w: %v", ErrInvalidLocator, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "local", "file":
		if u.Host != "" {
			return Locator{}, fmt.Errorf("%w: unexpected host %q in %s", ErrInvalidLocator, u.Host, raw)
		}
		if !strings.HasPrefix(u.Path, "/") {
			return Locator{}, fmt.Errorf("%w: path must be absolute in %s", ErrInvalidLocator, raw)
		}
		return Local(u.Path), nil
	case "gs":
		key := strings.TrimPrefix(u.Path, "/")
		if u.Host == "" || key == "" {
			return Locator{}, fmt.Errorf("%w: bucket and key required in %s", ErrInvalidLocator, raw)
		}
		return Object(u.Host, key), nil
	default:
		return Locator{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidLocator, u.Scheme)
	}
}
