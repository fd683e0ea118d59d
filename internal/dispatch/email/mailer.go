// Package email delivers codes as templated HTML and plain-text mail over SMTP or SES.
package email

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"leadflow/backend/internal/dispatch"
	"leadflow/backend/internal/logging"
	"leadflow/backend/internal/otp"
	"leadflow/backend/internal/otp/domain"
)

const (
	defaultMaxRetries = 3
	defaultRetryDelay = time.Second
	defaultTimeout    = 15 * time.Second
)

// Options configures the Mailer.
type Options struct {
	From    string
	AppName string
	// MaxRetries is the number of retries after the first attempt. Zero sends once.
	MaxRetries     int
	RetryDelay     time.Duration
	AttemptTimeout time.Duration
}

// DefaultOptions returns the mailer defaults: three retries one second apart.
func DefaultOptions() Options {
	return Options{
		AppName:        "LeadFlow",
		MaxRetries:     defaultMaxRetries,
		RetryDelay:     defaultRetryDelay,
		AttemptTimeout: defaultTimeout,
	}
}

// Mailer implements dispatch.Sender for the email channel.
type Mailer struct {
	transport Transport
	opts      Options
	recorder  dispatch.AttemptRecorder
	logger    *zap.Logger
}

// NewMailer returns a Mailer over transport. A nil transport is allowed; Send then reports otp.ErrNotConfigured.
func NewMailer(transport Transport, opts Options, logger *zap.Logger) *Mailer {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = defaultTimeout
	}
	if opts.AppName == "" {
		opts.AppName = "LeadFlow"
	}
	return &Mailer{transport: transport, opts: opts, logger: logging.Component(logger, "email")}
}

// SetRecorder attaches an attempt recorder (metrics).
func (m *Mailer) SetRecorder(r dispatch.AttemptRecorder) {
	m.recorder = r
}

// Send renders the code message and delivers it with the mailer's retry policy.
func (m *Mailer) Send(ctx context.Context, msg dispatch.Message) (bool, error) {
	if m.transport == nil || m.opts.From == "" {
		return false, fmt.Errorf("%w: email transport", otp.ErrNotConfigured)
	}
	to := strings.TrimSpace(msg.To)
	if to == "" || !strings.Contains(to, "@") {
		return false, fmt.Errorf("%w: valid email address is required", otp.ErrValidation)
	}
	subject, html, text, err := Render(m.opts.AppName, msg)
	if err != nil {
		return false, fmt.Errorf("email: render: %w", err)
	}
	return m.SendEmail(ctx, to, subject, html, text, m.opts.MaxRetries), nil
}

// SendEmail delivers one message, retrying up to retries times with exponential backoff.
// It reports whether the message was accepted by the transport.
func (m *Mailer) SendEmail(ctx context.Context, to, subject, html, text string, retries int) bool {
	ctx = context.WithoutCancel(ctx)
	e := Email{From: m.opts.From, To: to, Subject: subject, HTML: html, Text: text}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.opts.RetryDelay
	b.MaxInterval = 10 * m.opts.RetryDelay

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, m.opts.AttemptTimeout)
		defer cancel()
		err := m.transport.Deliver(attemptCtx, e)
		m.record(ctx, err)
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(retries+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			m.logger.Warn("email attempt failed", zap.String("to", logging.MaskEmail(to)), zap.Duration("retry_in", next), zap.Error(err))
		}),
	)
	if err != nil {
		m.logger.Error("email delivery failed", zap.String("to", logging.MaskEmail(to)), zap.Error(err))
		return false
	}
	return true
}

func (m *Mailer) record(ctx context.Context, err error) {
	if m.recorder == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.recorder.DispatchAttempt(ctx, string(domain.ChannelEmail), result)
}
