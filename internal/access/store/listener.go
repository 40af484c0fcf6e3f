// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Guildhall Contributors

package store

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"
)

// PgListener receives invalidation payloads over LISTEN on a dedicated,
// non-pooled connection.
type PgListener struct {
	connString string
	channel    string
}

// NewPgListener creates a listener for NotifyChannel.
func NewPgListener(connString string) *PgListener {
	return &PgListener{connString: connString, channel: NotifyChannel}
}

// Listen connects, issues LISTEN, and streams payloads until ctx is cancelled
// or the connection fails. The returned channel is closed in both cases;
// callers reconnect by calling Listen again.
func (l *PgListener) Listen(ctx context.Context) (<-chan string, error) {
	conn, err := pgx.Connect(ctx, l.connString)
	if err != nil {
		return nil, oops.In("store").Code("LISTEN_CONNECT_FAILED").Wrap(err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		_ = conn.Close(context.Background()) //nolint:errcheck // LISTEN error takes precedence
		return nil, oops.In("store").Code("LISTEN_FAILED").With("channel", l.channel).Wrap(err)
	}

	out := make(chan string, 64)
	go func() {
		defer close(out)
		defer conn.Close(context.Background()) //nolint:errcheck // best-effort close on shutdown

		for {
			n, err := conn.WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					slog.Warn("access invalidation listener lost connection",
						"channel", l.channel, "error", err)
				}
				return
			}
			select {
			case out <- n.Payload:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
