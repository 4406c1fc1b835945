package build

import (
	"context"
	"log/slog"
	"os"

	btclogv1 "github.com/btcsuite/btclog"
	"github.com/btcsuite/btclog/v2"
)

// NewDefaultLogHandlers returns the console handler and, when a rotator is
// supplied, the log file handler that we generally want to use. Loggers that
// are disabled in the config are left out.
func NewDefaultLogHandlers(cfg *LogConfig,
	rotator *RotatingLogWriter) []btclog.Handler {

	var handlers []btclog.Handler
	if !cfg.Console.Disable {
		handlers = append(handlers, btclog.NewDefaultHandler(
			os.Stdout, cfg.Console.HandlerOptions()...,
		))
	}

	if rotator != nil && !cfg.File.Disable {
		handlers = append(handlers, btclog.NewDefaultHandler(
			rotator, cfg.File.HandlerOptions()...,
		))
	}

	return handlers
}

// handlerSet is a btclog.Handler that fans every record out to a set of
// handlers, so a single logger can write to both stdout and the log file.
type handlerSet struct {
	level btclogv1.Level
	set   []btclog.Handler
}

// newHandlerSet constructs a handlerSet with the given level applied to all
// members.
func newHandlerSet(level btclogv1.Level, set ...btclog.Handler) *handlerSet {
	h := &handlerSet{
		set:   set,
		level: level,
	}
	h.SetLevel(level)

	return h
}

// Enabled reports whether the handler handles records at the given level.
//
// NOTE: this is part of the slog.Handler interface.
func (h *handlerSet) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.set {
		if handler.Enabled(ctx, level) {
			return true
		}
	}

	return false
}

// Handle handles the Record.
//
// NOTE: this is part of the slog.Handler interface.
func (h *handlerSet) Handle(ctx context.Context, record slog.Record) error {
	for _, handler := range h.set {
		if !handler.Enabled(ctx, record.Level) {
			continue
		}

		if err := handler.Handle(ctx, record.Clone()); err != nil {
			return err
		}
	}

	return nil
}

// WithAttrs returns a new Handler whose attributes consist of both the
// receiver's attributes and the arguments.
//
// NOTE: this is part of the slog.Handler interface.
func (h *handlerSet) WithAttrs(attrs []slog.Attr) slog.Handler {
	newSet := make(reducedSet, len(h.set))
	for i, handler := range h.set {
		newSet[i] = handler.WithAttrs(attrs)
	}

	return newSet
}

// WithGroup returns a new Handler with the given group appended to the
// receiver's existing groups.
//
// NOTE: this is part of the slog.Handler interface.
func (h *handlerSet) WithGroup(name string) slog.Handler {
	newSet := make(reducedSet, len(h.set))
	for i, handler := range h.set {
		newSet[i] = handler.WithGroup(name)
	}

	return newSet
}

// SubSystem creates a new Handler with the given sub-system tag.
//
// NOTE: this is part of the btclog.Handler interface.
func (h *handlerSet) SubSystem(tag string) btclog.Handler {
	newSet := make([]btclog.Handler, len(h.set))
	for i, handler := range h.set {
		newSet[i] = handler.SubSystem(tag)
	}

	return newHandlerSet(h.level, newSet...)
}

// WithPrefix returns a copy of the Handler but with the given string prefixed
// to each log message.
//
// NOTE: this is part of the btclog.Handler interface.
func (h *handlerSet) WithPrefix(prefix string) btclog.Handler {
	newSet := make([]btclog.Handler, len(h.set))
	for i, handler := range h.set {
		newSet[i] = handler.WithPrefix(prefix)
	}

	return newHandlerSet(h.level, newSet...)
}

// SetLevel changes the logging level of the Handler to the passed level.
//
// NOTE: this is part of the btclog.Handler interface.
func (h *handlerSet) SetLevel(level btclogv1.Level) {
	for _, handler := range h.set {
		handler.SetLevel(level)
	}
	h.level = level
}

// Level returns the current logging level of the Handler.
//
// NOTE: this is part of the btclog.Handler interface.
func (h *handlerSet) Level() btclogv1.Level {
	return h.level
}

// A compile-time check to ensure handlerSet implements btclog.Handler.
var _ btclog.Handler = (*handlerSet)(nil)

// reducedSet is the plain slog.Handler fan-out returned once attributes or
// groups have been attached to a handlerSet.
type reducedSet []slog.Handler

// Enabled reports whether the handler handles records at the given level.
func (r reducedSet) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range r {
		if handler.Enabled(ctx, level) {
			return true
		}
	}

	return false
}

// Handle handles the Record.
func (r reducedSet) Handle(ctx context.Context, record slog.Record) error {
	for _, handler := range r {
		if !handler.Enabled(ctx, record.Level) {
			continue
		}

		if err := handler.Handle(ctx, record.Clone()); err != nil {
			return err
		}
	}

	return nil
}

// WithAttrs returns a new Handler with the attributes appended.
func (r reducedSet) WithAttrs(attrs []slog.Attr) slog.Handler {
	newSet := make(reducedSet, len(r))
	for i, handler := range r {
		newSet[i] = handler.WithAttrs(attrs)
	}

	return newSet
}

// WithGroup returns a new Handler with the group appended.
func (r reducedSet) WithGroup(name string) slog.Handler {
	newSet := make(reducedSet, len(r))
	for i, handler := range r {
		newSet[i] = handler.WithGroup(name)
	}

	return newSet
}
