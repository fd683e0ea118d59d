// Package dispatch delivers one-time codes over the phone and email channels.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"leadflow/backend/internal/logging"
	"leadflow/backend/internal/otp"
	"leadflow/backend/internal/otp/domain"
)

// Message is a code to deliver.
type Message struct {
	Channel  domain.Channel
	To       string
	Code     string
	Purpose  domain.Purpose
	Validity time.Duration
}

// Sender delivers a message over one channel. It returns false when delivery failed after its
// retries; errors are reserved for configuration and input problems.
type Sender interface {
	Send(ctx context.Context, msg Message) (bool, error)
}

// AttemptRecorder observes individual delivery attempts.
type AttemptRecorder interface {
	DispatchAttempt(ctx context.Context, channel, result string)
}

// Gateway routes messages to the sender registered for their channel.
type Gateway struct {
	senders     map[domain.Channel]Sender
	testingMode bool
	logger      *zap.Logger
}

// NewGateway returns a gateway with no senders. In testing mode every Send succeeds without delivery.
func NewGateway(testingMode bool, logger *zap.Logger) *Gateway {
	return &Gateway{
		senders:     make(map[domain.Channel]Sender),
		testingMode: testingMode,
		logger:      logging.Component(logger, "dispatch"),
	}
}

// Register sets the sender for ch. A nil sender leaves the channel unconfigured.
func (g *Gateway) Register(ch domain.Channel, s Sender) *Gateway {
	if s != nil {
		g.senders[ch] = s
	}
	return g
}

// Configured reports whether a sender is registered for ch.
func (g *Gateway) Configured(ch domain.Channel) bool {
	_, ok := g.senders[ch]
	return ok
}

// Send delivers msg. Delivery failures are reported as false; the only errors are
// otp.ErrNotConfigured and otp.ErrValidation.
func (g *Gateway) Send(ctx context.Context, msg Message) (bool, error) {
	if g.testingMode {
		g.logger.Debug("testing mode, dispatch skipped",
			zap.String("channel", string(msg.Channel)),
			zap.String("purpose", string(msg.Purpose)))
		return true, nil
	}
	if msg.Channel == "" {
		return false, fmt.Errorf("%w: channel is required", otp.ErrValidation)
	}
	s, ok := g.senders[msg.Channel]
	if !ok {
		return false, fmt.Errorf("%w: %s", otp.ErrNotConfigured, msg.Channel)
	}
	sent, err := s.Send(ctx, msg)
	if err != nil {
		return false, err
	}
	if !sent {
		g.logger.Warn("dispatch failed after retries",
			zap.String("channel", string(msg.Channel)),
			zap.String("purpose", string(msg.Purpose)))
	}
	return sent, nil
}
