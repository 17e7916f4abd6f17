// Package sysutil holds process-level helpers shared by the command-line
// entry points: logger bootstrap and small env/flag conveniences.
package sysutil

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

// ParseLevel maps a level name to a zerolog level. "warning" is accepted as
// an alias; blank or unknown names mean info.
func ParseLevel(name string) zerolog.Level {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "warning" {
		name = "warn"
	}
	lvl, err := zerolog.ParseLevel(name)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// traceHook stamps events that carry a context (Event.Ctx or Context.Ctx)
// with the active span, so log lines can be joined to traces.
type traceHook struct{}

func (traceHook) Run(e *zerolog.Event, _ zerolog.Level, _ string) {
	sc := trace.SpanContextFromContext(e.GetCtx())
	if sc.IsValid() {
		e.Str("trace_id", sc.TraceID().String()).Str("span_id", sc.SpanID().String())
	}
}

// SetupLogger installs the global logger on w (stderr when nil): JSON, or a
// console writer when pretty is set, with a timestamp, the service name and
// trace correlation. The global logger also becomes the zerolog.Ctx fallback
// so CLI commands and background jobs log without a request.
//
// Console colors are disabled when NO_COLOR is truthy.
func SetupLogger(w io.Writer, level string, pretty bool, service string) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	zerolog.SetGlobalLevel(ParseLevel(level))
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen, NoColor: IsTruthy(os.Getenv("NO_COLOR"))}
	}
	ctx := zerolog.New(w).Hook(traceHook{}).With().Timestamp()
	if service = strings.TrimSpace(service); service != "" {
		ctx = ctx.Str("service", service)
	}

	log.Logger = ctx.Logger()
	zerolog.DefaultContextLogger = &log.Logger
	return log.Logger
}

// IsTruthy reports whether v spells true: 1, true, yes, y or on, in any case.
func IsTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true
	}
	return false
}

// FirstNonEmpty returns the first value that is not blank, unmodified.
func FirstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
