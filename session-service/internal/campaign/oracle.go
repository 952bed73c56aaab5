// Package campaign answers membership and game-master questions for the
// session layer. The source of truth is the campaign tables; a redis
// cache and a circuit breaker can be layered on top.
package campaign

import "context"

// Oracle is the campaign-membership collaborator.
type Oracle interface {
	// IsMember reports whether userID belongs to the campaign. The GM is
	// always a member. Unknown campaigns have no members.
	IsMember(ctx context.Context, campaignID, userID string) (bool, error)
	// GMUserID returns the campaign's GM, or "" when it has none.
	GMUserID(ctx context.Context, campaignID string) (string, error)
}

// Roles stored on campaign_members.
const (
	RoleGM     = "gm"
	RolePlayer = "player"
)
