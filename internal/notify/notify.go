// Package notify sends operator alerts when scrape jobs fail for good.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"

	"github.com/JakeFAU/remotehive-autoscraper/internal/config"
	"github.com/JakeFAU/remotehive-autoscraper/internal/scraper"
)

const sendTimeout = 30 * time.Second

// Notifier reports permanently failed jobs.
type Notifier interface {
	JobFailed(ctx context.Context, job scraper.Job, cause error) error
}

// Nop discards alerts.
type Nop struct{}

// JobFailed does nothing.
func (Nop) JobFailed(context.Context, scraper.Job, error) error { return nil }

// Sender delivers prepared messages. *mail.Client satisfies it.
type Sender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// Mailer emails alerts over SMTP.
type Mailer struct {
	sender Sender
	from   string
	to     []string
}

// New returns a Mailer when SMTP is configured and Nop otherwise.
func New(cfg config.SMTPConfig) (Notifier, error) {
	if !cfg.Enabled() {
		return Nop{}, nil
	}
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
		mail.WithTimeout(sendTimeout),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	return NewMailer(client, cfg.From, cfg.AlertTo), nil
}

// NewMailer builds a Mailer on an explicit Sender.
func NewMailer(sender Sender, from string, to []string) *Mailer {
	return &Mailer{sender: sender, from: from, to: to}
}

// JobFailed mails a plain-text summary of the failed job.
func (m *Mailer) JobFailed(ctx context.Context, job scraper.Job, cause error) error {
	msg, err := m.message(job, cause)
	if err != nil {
		return err
	}
	if err := m.sender.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send alert: %w", err)
	}
	return nil
}

func (m *Mailer) message(job scraper.Job, cause error) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(m.from); err != nil {
		return nil, fmt.Errorf("alert sender: %w", err)
	}
	if err := msg.To(m.to...); err != nil {
		return nil, fmt.Errorf("alert recipients: %w", err)
	}
	msg.Subject(fmt.Sprintf("[RemoteHive] scrape job failed: %s", job.BoardName))
	msg.SetDate()

	var b strings.Builder
	fmt.Fprintf(&b, "Job:      %s\n", job.ID)
	fmt.Fprintf(&b, "Board:    %s\n", job.BoardName)
	fmt.Fprintf(&b, "Query:    %s (%s)\n", job.Query, job.Location)
	fmt.Fprintf(&b, "Retries:  %d (max %d)\n", job.Attempt, job.MaxRetries)
	if cause != nil {
		fmt.Fprintf(&b, "Error:    %s\n", cause)
	} else if job.Error != "" {
		fmt.Fprintf(&b, "Error:    %s\n", job.Error)
	}
	msg.SetBodyString(mail.TypeTextPlain, b.String())
	return msg, nil
}

// Hook adapts n to an engine OnFailed callback. Sending happens off the
// worker goroutine; failures are logged.
func Hook(n Notifier, logger *zap.Logger) func(scraper.Job, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(job scraper.Job, cause error) {
		if _, ok := n.(Nop); ok {
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
			defer cancel()
			if err := n.JobFailed(ctx, job, cause); err != nil {
				logger.Warn("failure alert not sent", zap.String("job_id", job.ID), zap.Error(err))
			}
		}()
	}
}
