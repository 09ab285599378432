// internal/pkg/logger/logger.go
package logger

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

// Init 配置全局 zerolog 日志器
func Init(serviceName, level string, out io.Writer) {
	if out == nil {
		out = os.Stdout
	}
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zlog.Logger = zerolog.New(out).With().Timestamp().Str("service", serviceName).Logger()
}

// Ctx 返回 context 中的日志器；没有时退回全局日志器
func Ctx(ctx context.Context) *zerolog.Logger {
	if ctx != nil {
		if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
			return l
		}
	}
	return &zlog.Logger
}

// WithFields 把若干字段附加到 context 中的日志器上
func WithFields(ctx context.Context, fields map[string]string) context.Context {
	c := Ctx(ctx).With()
	for k, v := range fields {
		c = c.Str(k, v)
	}
	l := c.Logger()
	return l.WithContext(ctx)
}
