package client

import "context"

// TokenRevoker revokes every token issued to a client. It backs cascading Disable.
type TokenRevoker interface {
	RevokeClient(ctx context.Context, clientID string) (int64, error)
}
