package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"time"

	"callsense/internal/calls"
	"callsense/internal/metrics"
	"callsense/internal/storage"

	"github.com/oklog/ulid/v2"
)

var (
	// ErrInvalidInput is a client error the provider should not retry.
	ErrInvalidInput = errors.New("ingest: invalid input")
	// ErrTransientIO asks the provider to retry delivery.
	ErrTransientIO = errors.New("ingest: transient failure")
	// ErrRecordingTooLarge is returned by fetchers when a download exceeds the size cap.
	ErrRecordingTooLarge = errors.New("ingest: recording too large")
)

// Request is a provider-agnostic recording-ready notification.
type Request struct {
	ProviderCallID      string
	ProviderRecordingID string
	RecordingURL        string
	From                string
	To                  string
	DurationSeconds     *int
	CompanyID           string
}

// Fetcher downloads a recording from the provider.
type Fetcher interface {
	FetchRecording(ctx context.Context, recordingURL string) ([]byte, error)
}

// Notifier is told about newly inserted records. Best-effort.
type Notifier interface {
	Notify(ctx context.Context, id string) error
}

type Result struct {
	Record calls.CallRecord
	// Duplicate is true when the recording was already ingested and nothing new was written.
	Duplicate bool
}

type Options struct {
	FetchTimeout     time.Duration
	DefaultCompanyID string
	Notifier         Notifier
	Metrics          *metrics.Pipeline
	Logger           *slog.Logger
}

// Service turns a recording callback into a durable pending call record.
type Service struct {
	store     calls.Store
	blobs     storage.Writer
	fetcher   Fetcher
	notifier  Notifier
	metrics   *metrics.Pipeline
	log       *slog.Logger
	timeout   time.Duration
	companyID string
}

func NewService(store calls.Store, blobs storage.Writer, fetcher Fetcher, opts Options) *Service {
	s := &Service{
		store:     store,
		blobs:     blobs,
		fetcher:   fetcher,
		notifier:  opts.Notifier,
		metrics:   opts.Metrics,
		log:       opts.Logger,
		timeout:   opts.FetchTimeout,
		companyID: opts.DefaultCompanyID,
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.timeout <= 0 {
		s.timeout = 30 * time.Second
	}
	if s.companyID == "" {
		s.companyID = "default"
	}
	return s
}

// Upload is audio that arrived with its notification, such as a mailbox attachment.
type Upload struct {
	// SourceID identifies the audio at its source and is the dedupe key.
	SourceID       string
	ProviderCallID string
	Filename       string
	Audio          []byte
	CompanyID      string
}

// Ingest validates, fetches, stores and inserts. It returns only after the record is
// durably inserted; any earlier failure leaves no record behind.
func (s *Service) Ingest(ctx context.Context, req Request) (Result, error) {
	res, err := s.ingest(ctx, req)
	s.count(res, err)
	return res, err
}

// IngestAudio stores audio already in hand and inserts a pending record for it.
// It shares dedupe, storage and insert semantics with Ingest.
func (s *Service) IngestAudio(ctx context.Context, up Upload) (Result, error) {
	res, err := s.ingestAudio(ctx, up)
	s.count(res, err)
	return res, err
}

func (s *Service) count(res Result, err error) {
	switch {
	case err == nil && res.Duplicate:
		s.metrics.IncIngest(metrics.IngestDuplicate)
	case err == nil:
		s.metrics.IncIngest(metrics.IngestAccepted)
	case errors.Is(err, ErrInvalidInput):
		s.metrics.IncIngest(metrics.IngestInvalid)
	case errors.Is(err, storage.ErrStorageConfig):
		s.metrics.IncIngest(metrics.IngestStorageError)
	default:
		s.metrics.IncIngest(metrics.IngestTransient)
	}
}

func (s *Service) ingest(ctx context.Context, req Request) (Result, error) {
	req, err := s.normalize(req)
	if err != nil {
		return Result{}, err
	}
	log := s.log.With("provider_call_id", req.ProviderCallID, "provider_recording_id", req.ProviderRecordingID)

	if res, found, err := s.existing(ctx, log, req.ProviderRecordingID); found || err != nil {
		return res, err
	}
	if err := s.writable(log); err != nil {
		return Result{}, err
	}
	if s.fetcher == nil {
		return Result{}, errors.New("ingest: no recording fetcher configured")
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.timeout)
	audio, err := s.fetcher.FetchRecording(fetchCtx, req.RecordingURL)
	cancel()
	if err != nil {
		if errors.Is(err, ErrRecordingTooLarge) {
			return Result{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		log.Warn("recording fetch failed", "err", err)
		return Result{}, fmt.Errorf("%w: fetch recording: %v", ErrTransientIO, err)
	}
	if len(audio) == 0 {
		return Result{}, fmt.Errorf("%w: fetch recording: empty body", ErrTransientIO)
	}

	return s.persist(ctx, log, calls.CallRecord{
		CompanyID:           req.CompanyID,
		ProviderCallID:      req.ProviderCallID,
		ProviderRecordingID: req.ProviderRecordingID,
		FromNumber:          optional(req.From),
		ToNumber:            optional(req.To),
		DurationSeconds:     req.DurationSeconds,
	}, keyHint(req), audio)
}

func (s *Service) ingestAudio(ctx context.Context, up Upload) (Result, error) {
	up.SourceID = strings.TrimSpace(up.SourceID)
	up.ProviderCallID = strings.TrimSpace(up.ProviderCallID)
	up.CompanyID = strings.TrimSpace(up.CompanyID)
	ext := audioExt(up.Filename)
	switch {
	case up.SourceID == "":
		return Result{}, fmt.Errorf("%w: source id is required", ErrInvalidInput)
	case ext == "":
		return Result{}, fmt.Errorf("%w: %q is not a .wav or .mp3 file", ErrInvalidInput, up.Filename)
	case len(up.Audio) == 0:
		return Result{}, fmt.Errorf("%w: empty audio", ErrInvalidInput)
	}
	if up.ProviderCallID == "" {
		up.ProviderCallID = up.SourceID
	}
	if up.CompanyID == "" {
		up.CompanyID = s.companyID
	}
	log := s.log.With("provider_call_id", up.ProviderCallID, "provider_recording_id", up.SourceID)

	if res, found, err := s.existing(ctx, log, up.SourceID); found || err != nil {
		return res, err
	}
	if err := s.writable(log); err != nil {
		return Result{}, err
	}
	return s.persist(ctx, log, calls.CallRecord{
		CompanyID:           up.CompanyID,
		ProviderCallID:      up.ProviderCallID,
		ProviderRecordingID: up.SourceID,
	}, up.ProviderCallID+ext, up.Audio)
}

// existing reports a record already ingested under recordingID.
func (s *Service) existing(ctx context.Context, log *slog.Logger, recordingID string) (Result, bool, error) {
	if recordingID == "" {
		return Result{}, false, nil
	}
	rec, err := s.store.FindByProviderRecordingID(ctx, recordingID)
	switch {
	case err == nil:
		log.Info("recording already ingested", "call_record_id", rec.ID)
		return Result{Record: rec, Duplicate: true}, true, nil
	case errors.Is(err, calls.ErrNotFound):
		return Result{}, false, nil
	default:
		return Result{}, false, fmt.Errorf("%w: dedupe lookup: %v", ErrTransientIO, err)
	}
}

func (s *Service) writable(log *slog.Logger) error {
	if c, ok := s.blobs.(interface{ Configured() error }); ok {
		if err := c.Configured(); err != nil {
			log.Error("storage backend misconfigured", "err", err)
			return err
		}
	}
	return nil
}

// persist stores audio, inserts rec as pending and wakes the worker.
func (s *Service) persist(ctx context.Context, log *slog.Logger, rec calls.CallRecord, hint string, audio []byte) (Result, error) {
	loc, err := s.blobs.Store(ctx, hint, audio)
	if err != nil {
		if errors.Is(err, storage.ErrStorageConfig) {
			log.Error("storage backend misconfigured", "err", err)
			return Result{}, err
		}
		return Result{}, fmt.Errorf("%w: store recording: %v", ErrTransientIO, err)
	}

	rec.RecordingLocator = loc.String()
	inserted, err := s.store.Insert(ctx, rec)
	if err != nil {
		if errors.Is(err, calls.ErrDuplicate) {
			// A concurrent delivery of the same recording won the insert.
			existing, ferr := s.store.FindByProviderRecordingID(ctx, rec.ProviderRecordingID)
			if ferr == nil {
				log.Info("recording ingested concurrently", "call_record_id", existing.ID, "orphan_locator", loc.String())
				return Result{Record: existing, Duplicate: true}, nil
			}
		}
		log.Error("call record insert failed", "locator", loc.String(), "err", err)
		return Result{}, fmt.Errorf("%w: insert record: %v", ErrTransientIO, err)
	}

	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, inserted.ID); err != nil {
			log.Warn("work queue notify failed; record will be picked up by polling", "call_record_id", inserted.ID, "err", err)
		}
	}

	log.Info("recording ingested", "call_record_id", inserted.ID, "locator", inserted.RecordingLocator, "bytes", len(audio))
	return Result{Record: inserted}, nil
}

func (s *Service) normalize(req Request) (Request, error) {
	req.RecordingURL = strings.TrimSpace(req.RecordingURL)
	req.ProviderCallID = strings.TrimSpace(req.ProviderCallID)
	req.ProviderRecordingID = strings.TrimSpace(req.ProviderRecordingID)
	req.From = strings.TrimSpace(req.From)
	req.To = strings.TrimSpace(req.To)
	req.CompanyID = strings.TrimSpace(req.CompanyID)

	if req.RecordingURL == "" {
		return Request{}, fmt.Errorf("%w: recording url is required", ErrInvalidInput)
	}
	u, err := url.Parse(req.RecordingURL)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return Request{}, fmt.Errorf("%w: recording url must be an absolute http(s) url", ErrInvalidInput)
	}
	if req.DurationSeconds != nil && *req.DurationSeconds < 0 {
		return Request{}, fmt.Errorf("%w: negative duration", ErrInvalidInput)
	}
	if req.ProviderCallID == "" {
		req.ProviderCallID = "local-" + strings.ToLower(ulid.Make().String())
	}
	if req.CompanyID == "" {
		req.CompanyID = s.companyID
	}
	return req, nil
}

func keyHint(req Request) string {
	ext := audioExt(strings.SplitN(req.RecordingURL, "?", 2)[0])
	if ext == "" {
		ext = ".wav"
	}
	return req.ProviderCallID + ext
}

// audioExt returns ".wav" or ".mp3" for names with those extensions, "" otherwise.
func audioExt(name string) string {
	switch ext := strings.ToLower(path.Ext(strings.TrimSpace(name))); ext {
	case ".wav", ".mp3":
		return ext
	}
	return ""
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
