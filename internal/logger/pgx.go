package logger

import (
	"context"

	"github.com/jackc/pgx/v5/tracelog"
	"github.com/rs/zerolog"
)

// PgxTracer returns a pgx tracer that writes connect, query and copy events
// through l with module=pgx. level is a pgx level name (trace, debug, info,
// warn, error, none); an unknown name disables tracing below warn.
func (l *Logger) PgxTracer(level string) *tracelog.TraceLog {
	lvl, err := tracelog.LogLevelFromString(level)
	if err != nil {
		lvl = tracelog.LogLevelWarn
	}
	zl := l.zlog.With().Str("module", "pgx").Logger()

	return &tracelog.TraceLog{
		Logger: tracelog.LoggerFunc(func(_ context.Context, level tracelog.LogLevel, msg string, data map[string]any) {
			zl.WithLevel(pgxLevel(level)).Fields(data).Msg(msg)
		}),
		LogLevel: lvl,
	}
}

func pgxLevel(level tracelog.LogLevel) zerolog.Level {
	switch level {
	case tracelog.LogLevelTrace:
		return zerolog.TraceLevel
	case tracelog.LogLevelDebug:
		return zerolog.DebugLevel
	case tracelog.LogLevelInfo:
		return zerolog.InfoLevel
	case tracelog.LogLevelWarn:
		return zerolog.WarnLevel
	case tracelog.LogLevelError:
		return zerolog.ErrorLevel
	case tracelog.LogLevelNone:
		return zerolog.NoLevel
	default:
		return zerolog.DebugLevel
	}
}
