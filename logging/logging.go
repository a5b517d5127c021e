// Package logging adapts github.com/rs/zerolog to the small
// Debugf/Warnf duck-typed Logger interfaces each package in this
// module declares at its own construction boundary (sender, assembler,
// cache, controlchan, hoststream, adaptive, audio, prefs). Each
// consumer declares its own minimal interface rather than importing
// zerolog directly, so this is the one place the dependency is
// concrete.
package logging

import (
	"os"

	"github.com/rs/zerolog"
)

// Logger wraps a zerolog.Logger pre-bound with caller-supplied fields.
type Logger struct {
	z zerolog.Logger
}

// New returns a console-friendly root logger with no level filter, so
// Debugf lines are written too; suitable
// for the devtools binary; library packages should prefer With to bind
// their own fields rather than constructing a root logger themselves.
func New() Logger {
	return Logger{z: zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()}
}

// FromZerolog wraps an already-configured zerolog.Logger.
func FromZerolog(z zerolog.Logger) Logger {
	return Logger{z: z}
}

// With returns a child logger with additional fields bound, e.g.
// log.With("stream_id", streamID, "component", "sender").
func (l Logger) With(kvs ...any) Logger {
	ctx := l.z.With()
	for i := 0; i+1 < len(kvs); i += 2 {
		key, _ := kvs[i].(string)
		ctx = ctx.Interface(key, kvs[i+1])
	}
	return Logger{z: ctx.Logger()}
}

func (l Logger) Debugf(format string, args ...any) {
	l.z.Debug().Msgf(format, args...)
}

func (l Logger) Warnf(format string, args ...any) {
	l.z.Warn().Msgf(format, args...)
}

func (l Logger) Errorf(format string, args ...any) {
	l.z.Error().Msgf(format, args...)
}
