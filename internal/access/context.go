// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Guildhall Contributors

package access

import "context"

type actorKey struct{}

// WithActor returns a context carrying the ID of the member on whose behalf
// the request runs. The identity layer sets it after authentication.
func WithActor(ctx context.Context, memberID string) context.Context {
	return context.WithValue(ctx, actorKey{}, memberID)
}

// ActorFromContext returns the acting member ID, if one was set.
func ActorFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(actorKey{}).(string)
	return id, ok && id != ""
}
