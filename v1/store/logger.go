package store

import (
	"context"
	"fmt"
	"log/slog"

	redis "github.com/redis/go-redis/v9"
)

// slogAdapter routes go-redis internal logging to slog.
type slogAdapter struct {
	l *slog.Logger
}

func (a slogAdapter) Printf(ctx context.Context, format string, v ...interface{}) {
	a.l.WarnContext(ctx, "relay: go-redis", "msg", fmt.Sprintf(format, v...))
}

// SetLogger makes go-redis log through l. A nil l uses slog.Default().
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.Default()
	}
	redis.SetLogger(slogAdapter{l: l})
}
