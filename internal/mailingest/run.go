package mailingest

import (
	"context"
	"fmt"
	"time"

	"callsense/pkg/logger"

	"github.com/robfig/cron/v3"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// Credentials select how the Gmail client authenticates. Endpoint points the
// client at an emulator and disables auth; otherwise a refresh token is used
// when set and application default credentials when not.
type Credentials struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	Endpoint     string
}

func NewGmailService(ctx context.Context, c Credentials) (*gmail.Service, error) {
	var opts []option.ClientOption
	switch {
	case c.Endpoint != "":
		opts = append(opts, option.WithEndpoint(c.Endpoint), option.WithoutAuthentication())
	case c.RefreshToken != "":
		conf := &oauth2.Config{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{gmail.GmailModifyScope},
		}
		opts = append(opts, option.WithTokenSource(conf.TokenSource(ctx, &oauth2.Token{RefreshToken: c.RefreshToken})))
	default:
		opts = append(opts, option.WithScopes(gmail.GmailModifyScope))
	}
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gmail client: %w", err)
	}
	return svc, nil
}

// Run polls the mailbox every interval until ctx is cancelled. Passes never overlap.
func (p *Poller) Run(ctx context.Context, every time.Duration) error {
	if every <= 0 {
		every = 30 * time.Second
	}
	poll := func() {
		if _, err := p.PollOnce(ctx); err != nil && ctx.Err() == nil {
			p.log.Error("mailbox poll failed", "err", err)
		}
	}

	cl := logger.Cron(p.log)
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", every), poll); err != nil {
		return fmt.Errorf("schedule mailbox poll: %w", err)
	}

	p.log.Info("mail ingest started", "user", p.opts.User, "query", p.opts.Query, "every", every.String())
	poll()
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	p.log.Info("mail ingest stopped")
	return nil
}
