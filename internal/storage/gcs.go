package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const objectPrefix = "recordings/"

// objectStore is the slice of the object storage client the backend needs.
type objectStore interface {
	put(ctx context.Context, bucket, key string, data []byte, kmsKey string) error
	get(ctx context.Context, bucket, key string) ([]byte, error)
}

// GCSBackend stores blobs in a Cloud Storage bucket. When kmsKey is set, objects are
// written with that customer-managed key; otherwise the bucket's default encryption applies.
type GCSBackend struct {
	objects objectStore
	bucket  string
	kmsKey  string
}

// NewGCSClient builds a client; endpoint overrides the API host (emulators).
func NewGCSClient(ctx context.Context, endpoint string) (*gcs.Client, error) {
	var opts []option.ClientOption
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint), option.WithoutAuthentication())
	}
	c, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: gcs client: %v", ErrStorageConfig, err)
	}
	return c, nil
}

// NewGCSBackend never fails: a missing client or bucket surfaces as ErrStorageConfig
// on each operation so the process keeps serving.
func NewGCSBackend(client *gcs.Client, bucket, kmsKey string) *GCSBackend {
	b := &GCSBackend{bucket: strings.TrimSpace(bucket), kmsKey: strings.TrimSpace(kmsKey)}
	if client != nil {
		b.objects = gcsObjects{client: client}
	}
	return b
}

// NewLazyGCSBackend defers client creation to the first operation. Processes that
// only need to read older gs:// locators pay for the client when one shows up.
func NewLazyGCSBackend(endpoint, bucket, kmsKey string) (*GCSBackend, func() error) {
	lazy := &lazyObjects{dial: func(ctx context.Context) (*gcs.Client, error) {
		return NewGCSClient(ctx, endpoint)
	}}
	b := &GCSBackend{objects: lazy, bucket: strings.TrimSpace(bucket), kmsKey: strings.TrimSpace(kmsKey)}
	return b, lazy.close
}

func (b *GCSBackend) Scheme() Scheme { return SchemeObject }

// Dial creates a lazy backend's client now, surfacing credential problems at startup.
func (b *GCSBackend) Dial(ctx context.Context) error {
	if l, ok := b.objects.(*lazyObjects); ok {
		_, err := l.objects(ctx)
		return err
	}
	return nil
}

// Configured reports whether Store can succeed.
func (b *GCSBackend) Configured() error {
	if b.objects == nil {
		return fmt.Errorf("%w: object storage client not initialized", ErrStorageConfig)
	}
	if b.bucket == "" {
		return fmt.Errorf("%w: RECORDINGS_BUCKET is not set", ErrStorageConfig)
	}
	return nil
}

func (b *GCSBackend) Store(ctx context.Context, keyHint string, data []byte) (Locator, error) {
	if err := b.Configured(); err != nil {
		return Locator{}, err
	}
	key := objectPrefix + ObjectName(keyHint)
	if err := b.objects.put(ctx, b.bucket, key, data, b.kmsKey); err != nil {
		return Locator{}, classifyGCSError(err)
	}
	return Object(b.bucket, key), nil
}

func (b *GCSBackend) Retrieve(ctx context.Context, loc Locator) ([]byte, error) {
	if loc.Scheme != SchemeObject {
		return nil, fmt.Errorf("%w: object backend cannot read %q", ErrInvalidLocator, loc.Scheme)
	}
	if b.objects == nil {
		return nil, fmt.Errorf("%w: object storage client not initialized", ErrStorageConfig)
	}
	data, err := b.objects.get(ctx, loc.Bucket, loc.Key)
	if err != nil {
		return nil, classifyGCSError(err)
	}
	return data, nil
}

func classifyGCSError(err error) error {
	switch {
	case errors.Is(err, gcs.ErrObjectNotExist):
		return fmt.Errorf("%w: %v", ErrBlobNotFound, err)
	case errors.Is(err, gcs.ErrBucketNotExist):
		return fmt.Errorf("%w: %v", ErrStorageConfig, err)
	case errors.Is(err, context.Canceled):
		return err
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusUnauthorized, apiErr.Code == http.StatusForbidden:
			return fmt.Errorf("%w: %v", ErrStorageConfig, err)
		case apiErr.Code == http.StatusNotFound:
			return fmt.Errorf("%w: %v", ErrBlobNotFound, err)
		case apiErr.Code == http.StatusTooManyRequests, apiErr.Code >= 500:
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

// lazyObjects dials once, on first use. A failed dial is retried by the next call.
type lazyObjects struct {
	dial func(context.Context) (*gcs.Client, error)

	mu     sync.Mutex
	client *gcs.Client
}

func (l *lazyObjects) get(ctx context.Context, bucket, key string) ([]byte, error) {
	o, err := l.objects(ctx)
	if err != nil {
		return nil, err
	}
	return o.get(ctx, bucket, key)
}

func (l *lazyObjects) put(ctx context.Context, bucket, key string, data []byte, kmsKey string) error {
	o, err := l.objects(ctx)
	if err != nil {
		return err
	}
	return o.put(ctx, bucket, key, data, kmsKey)
}

func (l *lazyObjects) objects(ctx context.Context) (gcsObjects, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.client == nil {
		// The client outlives the request that happened to create it.
		c, err := l.dial(context.WithoutCancel(ctx))
		if err != nil {
			return gcsObjects{}, err
		}
		l.client = c
	}
	return gcsObjects{client: l.client}, nil
}

func (l *lazyObjects) close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.client == nil {
		return nil
	}
	err := l.client.Close()
	l.client = nil
	return err
}

type gcsObjects struct {
	client *gcs.Client
}

func (g gcsObjects) put(ctx context.Context, bucket, key string, data []byte, kmsKey string) error {
	// DoesNotExist makes the write create-only; names are unique so a clash means a bug.
	obj := g.client.Bucket(bucket).Object(key).If(gcs.Conditions{DoesNotExist: true})
	w := obj.NewWriter(ctx)
	w.ContentType = contentType(key)
	if kmsKey != "" {
		w.KMSKeyName = kmsKey
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func (g gcsObjects) get(ctx context.Context, bucket, key string) ([]byte, error) {
	r, err := g.client.Bucket(bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func contentType(key string) string {
	switch {
	case strings.HasSuffix(key, ".mp3"):
		return "audio/mpeg"
	case strings.HasSuffix(key, ".ogg"):
		return "audio/ogg"
	case strings.HasSuffix(key, ".webm"):
		return "audio/webm"
	case strings.HasSuffix(key, ".m4a"):
		return "audio/mp4"
	case strings.HasSuffix(key, ".flac"):
		return "audio/flac"
	default:
		return "audio/wav"
	}
}
