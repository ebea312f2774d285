// Package clog is the core's single logging subscriber. It is initialized
// once by the embedding application (never from inside a workflow or
// gossip package) and wraps zap with the key-value calling convention used
// throughout this codebase: Info(msg, "key", val, "key2", val2, ...).
package clog

import (
	"sync"

	"go.uber.org/zap"
)

var (
	mu  sync.RWMutex
	log = noop()
)

// Logger is the narrow interface every package in this module logs through.
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
	With(kv ...any) Logger
}

type zapLogger struct {
	s *zap.SugaredLogger
}

func (z *zapLogger) Debug(msg string, kv ...any) { z.s.Debugw(msg, kv...) }
func (z *zapLogger) Info(msg string, kv ...any)  { z.s.Infow(msg, kv...) }
func (z *zapLogger) Warn(msg string, kv ...any)  { z.s.Warnw(msg, kv...) }
func (z *zapLogger) Error(msg string, kv ...any) { z.s.Errorw(msg, kv...) }
func (z *zapLogger) With(kv ...any) Logger {
	return &zapLogger{s: z.s.With(kv...)}
}

func noop() Logger {
	return &zapLogger{s: zap.NewNop().Sugar()}
}

// Init installs the process-wide logger. Call once at startup; safe to call
// again in tests to swap in a development logger.
func Init(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	log = &zapLogger{s: l.Sugar()}
}

// InitDevelopment wires a human-readable development logger, for tests and
// local runs.
func InitDevelopment() error {
	l, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	Init(l)
	return nil
}

// L returns the current process-wide logger.
func L() Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// Named returns a child logger scoped to the given component, e.g.
// clog.Named("gossip").
func Named(component string) Logger {
	return L().With("component", component)
}
