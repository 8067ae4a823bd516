package logger

import (
	"context"

	"go.uber.org/zap"
)

type passKey struct{}

// PassInfo identifies a single materialization pass of the read model
type PassInfo struct {
	// Pass is the monotonically increasing pass number of a coordinator
	Pass uint64
	// Trigger is what caused the pass (notification, manual, startup)
	Trigger string
	// Supply is the totalSupply observed at the start of the pass, 0 until read
	Supply uint64
}

// Fields returns the zap fields describing the pass
func (p PassInfo) Fields() []zap.Field {
	fields := []zap.Field{
		zap.Uint64("pass", p.Pass),
		zap.String("trigger", p.Trigger),
	}
	if p.Supply > 0 {
		fields = append(fields, zap.Uint64("supply", p.Supply))
	}
	return fields
}

// ContextWithPass attaches the pass info to ctx
func ContextWithPass(ctx context.Context, info PassInfo) context.Context {
	return context.WithValue(ctx, passKey{}, info)
}

// PassFromContext returns the pass info attached to ctx
func PassFromContext(ctx context.Context) (PassInfo, bool) {
	info, ok := ctx.Value(passKey{}).(PassInfo)
	return info, ok
}

// WithPass returns a logger that tags every entry with the pass info
func WithPass(info PassInfo) *zap.Logger {
	return log.With(info.Fields()...)
}

// InfoPass logs an info message with pass context
func InfoPass(info PassInfo, msg string, fields ...zap.Field) {
	WithPass(info).Info(msg, fields...)
}

// WarnPass logs a warning message with pass context
func WarnPass(info PassInfo, msg string, fields ...zap.Field) {
	WithPass(info).Warn(msg, fields...)
}

// ErrorPass logs an error with pass context
func ErrorPass(info PassInfo, err error, fields ...zap.Field) {
	if err != nil {
		WithPass(info).Error(err.Error(), fields...)
	} else {
		WithPass(info).Error("error occurred", fields...)
	}
}
