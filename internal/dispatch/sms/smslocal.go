// Package sms delivers codes through the SMS Local HTTP API.
package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
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
	defaultBaseURL        = "https://www.smslocal.com/dev/bulkV2"
	defaultRoute          = "otp"
	defaultCountryPrefix  = "91"
	defaultMaxAttempts    = 3
	defaultBaseDelay      = 500 * time.Millisecond
	defaultMaxDelay       = 5 * time.Second
	defaultAttemptTimeout = 10 * time.Second
	defaultAppName        = "LeadFlow"
)

// Options configures the SMS Local client. Zero values take the package defaults.
type Options struct {
	APIKey        string
	BaseURL       string
	SenderID      string
	Route         string
	CountryPrefix string
	AppName       string
	// MaxAttempts counts the first request.
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	AttemptTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.BaseURL == "" {
		o.BaseURL = defaultBaseURL
	}
	if o.Route == "" {
		o.Route = defaultRoute
	}
	if o.CountryPrefix == "" {
		o.CountryPrefix = defaultCountryPrefix
	}
	if o.AppName == "" {
		o.AppName = defaultAppName
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = defaultMaxAttempts
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = defaultBaseDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = defaultMaxDelay
	}
	if o.MaxDelay < o.BaseDelay {
		o.MaxDelay = o.BaseDelay
	}
	if o.AttemptTimeout <= 0 {
		o.AttemptTimeout = defaultAttemptTimeout
	}
	return o
}

// SMSLocalClient sends OTP SMS via SMS Local (route=otp by default).
// See https://www.smslocal.in/help/otp-sms/ and https://www.smslocal.com/dev/bulkV2.
type SMSLocalClient struct {
	opts       Options
	HTTPClient *http.Client
	recorder   dispatch.AttemptRecorder
	logger     *zap.Logger
}

// NewSMSLocalClient returns a client for the given options.
func NewSMSLocalClient(opts Options, logger *zap.Logger) *SMSLocalClient {
	opts = opts.withDefaults()
	return &SMSLocalClient{
		opts:       opts,
		HTTPClient: &http.Client{Timeout: opts.AttemptTimeout},
		logger:     logging.Component(logger, "sms"),
	}
}

// SetRecorder attaches an attempt recorder (metrics).
func (c *SMSLocalClient) SetRecorder(r dispatch.AttemptRecorder) {
	c.recorder = r
}

// Options returns the effective options after defaults.
func (c *SMSLocalClient) Options() Options {
	return c.opts
}

// Send normalizes the destination and delivers the code, retrying with exponential backoff.
// The retry loop ignores caller cancellation; each attempt has its own timeout.
func (c *SMSLocalClient) Send(ctx context.Context, msg dispatch.Message) (bool, error) {
	if c.opts.APIKey == "" {
		return false, fmt.Errorf("%w: sms api key", otp.ErrNotConfigured)
	}
	phone := NormalizePhone(msg.To, c.opts.CountryPrefix)
	if phone == "" {
		return false, fmt.Errorf("%w: phone number is required", otp.ErrValidation)
	}
	text := FormatMessage(c.opts.AppName, msg.Code, msg.Validity)
	ctx = context.WithoutCancel(ctx)

	b := &backoff.ExponentialBackOff{
		InitialInterval:     c.opts.BaseDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         c.opts.MaxDelay,
	}
	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, c.opts.AttemptTimeout)
		defer cancel()
		err := c.SendOTP(attemptCtx, phone, text, msg.Code)
		c.record(ctx, err)
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(c.opts.MaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Warn("sms attempt failed",
				zap.Int("attempt", attempt),
				zap.Duration("retry_in", next),
				zap.String("to", logging.MaskPhone(phone)),
				zap.Error(err))
		}),
	)
	if err != nil {
		c.logger.Error("sms delivery failed",
			zap.Int("attempts", attempt),
			zap.String("to", logging.MaskPhone(phone)),
			zap.String("purpose", string(msg.Purpose)),
			zap.Error(err))
		return false, nil
	}
	return true, nil
}

// SendOTP performs a single request to SMS Local. phone must already be normalized. Does not log the code.
func (c *SMSLocalClient) SendOTP(ctx context.Context, phone, text, code string) error {
	body := map[string]interface{}{
		"route":     c.opts.Route,
		"numbers":   phone,
		"message":   text,
		"variables": code,
	}
	if c.opts.SenderID != "" {
		body["sender_id"] = c.opts.SenderID
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.opts.APIKey)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("sms: request failed status=%d body=%s", resp.StatusCode, string(b))
	}
	return nil
}

func (c *SMSLocalClient) record(ctx context.Context, err error) {
	if c.recorder == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.recorder.DispatchAttempt(ctx, string(domain.ChannelSMS), result)
}

// NormalizePhone keeps digits only (dropping spaces, punctuation and a leading +) and prepends
// prefix to 10-digit numbers that do not already start with it. A 10-digit number that begins
// with the prefix digits is sent as is; callers wanting a prefix on such numbers must supply it.
func NormalizePhone(raw, prefix string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) == 10 && prefix != "" && !strings.HasPrefix(digits, prefix) {
		return prefix + digits
	}
	return digits
}

// FormatMessage renders the SMS text for a code.
func FormatMessage(appName, code string, validity time.Duration) string {
	return fmt.Sprintf("%s is your %s verification code. It is valid for %s. Do not share it with anyone.",
		code, appName, dispatch.ValidityText(validity))
}
