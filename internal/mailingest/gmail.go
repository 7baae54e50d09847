package mailingest

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"callsense/internal/ingest"

	"google.golang.org/api/gmail/v1"
)

// DefaultQuery matches unread mail carrying a recording.
const DefaultQuery = "has:attachment (filename:wav OR filename:mp3) is:unread"

const unreadLabel = "UNREAD"

// Ingester is the part of ingest.Service the poller needs.
type Ingester interface {
	IngestAudio(ctx context.Context, up ingest.Upload) (ingest.Result, error)
}

type Options struct {
	// User is the mailbox owner; "me" is the authenticated account.
	User        string
	Query       string
	MaxMessages int64
	CompanyID   string
	Logger      *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.User == "" {
		o.User = "me"
	}
	if o.Query == "" {
		o.Query = DefaultQuery
	}
	if o.MaxMessages <= 0 {
		o.MaxMessages = 50
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Poller turns voicemail attachments in a Gmail mailbox into pending call records.
type Poller struct {
	gmail  *gmail.Service
	ingest Ingester
	opts   Options
	log    *slog.Logger
}

func NewPoller(svc *gmail.Service, ing Ingester, opts Options) *Poller {
	opts = opts.withDefaults()
	return &Poller{gmail: svc, ingest: ing, opts: opts, log: opts.Logger}
}

// PollResult counts what one pass over the mailbox did.
type PollResult struct {
	Messages   int
	Ingested   int
	Duplicates int
	Skipped    int
	Failed     int
}

// PollOnce lists matching messages and ingests every .wav or .mp3 attachment.
// A message is marked read only once all of its recordings are stored, so a
// transient failure leaves it for the next pass. Attachments are deduplicated
// by message and part id, which makes a repeat pass harmless.
func (p *Poller) PollOnce(ctx context.Context) (PollResult, error) {
	var res PollResult
	list, err := p.gmail.Users.Messages.List(p.opts.User).
		Q(p.opts.Query).
		MaxResults(p.opts.MaxMessages).
		Context(ctx).
		Do()
	if err != nil {
		return res, fmt.Errorf("list messages: %w", err)
	}

	for _, m := range list.Messages {
		if ctx.Err() != nil {
			break
		}
		res.Messages++
		if err := p.processMessage(ctx, m.Id, &res); err != nil {
			res.Failed++
			p.log.Warn("mail message left unread for retry", "message_id", m.Id, "err", err)
		}
	}
	if res.Messages > 0 {
		p.log.Info("mailbox poll",
			"messages", res.Messages,
			"ingested", res.Ingested,
			"duplicates", res.Duplicates,
			"skipped", res.Skipped,
			"failed", res.Failed,
		)
	}
	return res, ctx.Err()
}

func (p *Poller) processMessage(ctx context.Context, id string, res *PollResult) error {
	msg, err := p.gmail.Users.Messages.Get(p.opts.User, id).Format("full").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("get message: %w", err)
	}
	log := p.log.With("message_id", id)

	var failed error
	for _, part := range audioParts(msg.Payload) {
		audio, err := p.partData(ctx, id, part)
		if err != nil {
			failed = errors.Join(failed, err)
			continue
		}
		out, err := p.ingest.IngestAudio(ctx, ingest.Upload{
			SourceID:       fmt.Sprintf("gmail-%s-%s", id, part.PartId),
			ProviderCallID: "gmail-" + id,
			Filename:       part.Filename,
			Audio:          audio,
			CompanyID:      p.opts.CompanyID,
		})
		switch {
		case errors.Is(err, ingest.ErrInvalidInput):
			res.Skipped++
			log.Warn("attachment skipped", "filename", part.Filename, "err", err)
		case err != nil:
			failed = errors.Join(failed, fmt.Errorf("ingest %s: %w", part.Filename, err))
		case out.Duplicate:
			res.Duplicates++
		default:
			res.Ingested++
		}
	}
	if failed != nil {
		return failed
	}

	req := &gmail.ModifyMessageRequest{RemoveLabelIds: []string{unreadLabel}}
	if _, err := p.gmail.Users.Messages.Modify(p.opts.User, id, req).Context(ctx).Do(); err != nil {
		// Dedupe keeps the next pass from inserting the same recordings again.
		log.Warn("mark message read failed", "err", err)
	}
	return nil
}

// partData returns the attachment bytes, fetching them when the body only
// carries an attachment id.
func (p *Poller) partData(ctx context.Context, msgID string, part *gmail.MessagePart) ([]byte, error) {
	data := part.Body.Data
	if data == "" && part.Body.AttachmentId != "" {
		body, err := p.gmail.Users.Messages.Attachments.Get(p.opts.User, msgID, part.Body.AttachmentId).Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("get attachment %s: %w", part.Filename, err)
		}
		data = body.Data
	}
	audio, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
	if err != nil {
		return nil, fmt.Errorf("decode attachment %s: %w", part.Filename, err)
	}
	return audio, nil
}

// audioParts walks the MIME tree and returns leaf parts named *.wav or *.mp3.
func audioParts(root *gmail.MessagePart) []*gmail.MessagePart {
	var out []*gmail.MessagePart
	var walk func(*gmail.MessagePart)
	walk = func(p *gmail.MessagePart) {
		if p == nil {
			return
		}
		if len(p.Parts) > 0 {
			for _, c := range p.Parts {
				walk(c)
			}
			return
		}
		if p.Body == nil || !isAudioName(p.Filename) {
			return
		}
		out = append(out, p)
	}
	walk(root)
	return out
}

func isAudioName(name string) bool {
	lower := strings.ToLower(strings.TrimSpace(name))
	return strings.HasSuffix(lower, ".wav") || strings.HasSuffix(lower, ".mp3")
}
