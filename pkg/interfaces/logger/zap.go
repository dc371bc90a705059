package logger

import "go.uber.org/zap"

// Zap forwards engine log calls to an underlying zap logger.
type Zap struct {
	base *zap.Logger
}

var _ Logger = (*Zap)(nil)

// NewZap wraps a zap logger. A nil logger yields a no-op instance.
func NewZap(base *zap.Logger) *Zap {
	if base == nil {
		base = zap.NewNop()
	}
	return &Zap{base: base}
}

func (z *Zap) With(fields ...Field) Logger {
	return &Zap{base: z.base.With(zapFields(fields)...)}
}

func (z *Zap) Debug(msg string, fields ...Field) { z.base.Debug(msg, zapFields(fields)...) }
func (z *Zap) Info(msg string, fields ...Field)  { z.base.Info(msg, zapFields(fields)...) }
func (z *Zap) Warn(msg string, fields ...Field)  { z.base.Warn(msg, zapFields(fields)...) }
func (z *Zap) Error(msg string, fields ...Field) { z.base.Error(msg, zapFields(fields)...) }

func zapFields(fields []Field) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for _, f := range fields {
		out = append(out, zap.Any(f.Key, f.Value))
	}
	return out
}
