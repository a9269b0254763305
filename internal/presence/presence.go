// Package presence tracks which users hold at least one live realtime
// connection. A user stays online until their last connection goes away.
package presence

import "context"

// Tracker counts live connections per user.
// Connect reports first=true when it registers the user's first connection;
// Disconnect reports last=true when it removes the user's last one.
// Repeated calls with the same connection id are no-ops.
type Tracker interface {
	Connect(ctx context.Context, userID, connID string) (first bool, err error)
	Disconnect(ctx context.Context, userID, connID string) (last bool, err error)
	IsOnline(ctx context.Context, userID string) (bool, error)
	Online(ctx context.Context) ([]string, error)
}
