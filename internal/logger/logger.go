// Package logger is the process-wide structured log. One slog text
// handler backs the whole controller; the output writer and the level
// can be swapped at runtime, which the CLI uses to tee into a file.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

var (
	levelVar slog.LevelVar
	base     atomic.Pointer[slog.Logger]
)

var levelNames = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

func init() {
	levelVar.Set(slog.LevelInfo)
	base.Store(newLogger(os.Stdout))
}

func newLogger(w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: &levelVar}))
}

// SetOutput rebuilds the logger on the given writer. In-flight log calls
// finish on the old writer.
func SetOutput(w io.Writer) {
	base.Store(newLogger(w))
}

// SetLevel parses a config-level string; unknown values mean info.
func SetLevel(level string) {
	lvl, ok := levelNames[strings.ToLower(strings.TrimSpace(level))]
	if !ok {
		lvl = slog.LevelInfo
	}
	levelVar.Set(lvl)
}

func Debugf(format string, v ...any) { base.Load().Debug(fmt.Sprintf(format, v...)) }
func Infof(format string, v ...any)  { base.Load().Info(fmt.Sprintf(format, v...)) }
func Warnf(format string, v ...any)  { base.Load().Warn(fmt.Sprintf(format, v...)) }
func Errorf(format string, v ...any) { base.Load().Error(fmt.Sprintf(format, v...)) }

// InfoBlock logs a multi-line block one record per line so every line
// carries its own timestamp and level.
func InfoBlock(block string) {
	for _, line := range strings.Split(strings.TrimSpace(block), "\n") {
		if line = strings.TrimRight(line, "\n"); line != "" {
			Infof("%s", line)
		}
	}
}
