// Package notify delivers text messages to the operator. Delivery is
// fire-and-forget: callers log failures and carry on.
package notify

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// Notifier delivers a single text message.
type Notifier interface {
	Send(ctx context.Context, text string) error
}

// Multi fans a message out to every channel. It fails only when every
// channel failed.
type Multi struct {
	channels []Notifier
}

// NewMulti creates a fan-out notifier.
func NewMulti(channels ...Notifier) *Multi {
	return &Multi{channels: channels}
}

// Send delivers text to every channel.
func (m *Multi) Send(ctx context.Context, text string) error {
	if len(m.channels) == 0 {
		return nil
	}

	var errs []error
	for _, ch := range m.channels {
		if err := ch.Send(ctx, text); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == len(m.channels) {
		return errors.Join(errs...)
	}
	return nil
}

// Log writes messages to the logger. It is the channel of last resort
// when nothing else is configured.
type Log struct {
	logger zerolog.Logger
}

// NewLog creates a logging notifier.
func NewLog(logger zerolog.Logger) *Log {
	return &Log{logger: logger.With().Str("component", "notify").Logger()}
}

func (l *Log) Send(_ context.Context, text string) error {
	l.logger.Info().Str("channel", "log").Msg(text)
	return nil
}
