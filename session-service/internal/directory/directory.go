// Package directory records which nodes currently host members of a room,
// so the relay can skip publishing for rooms that live on one node only.
package directory

import (
	"context"

	"github.com/weiawesome/campaign-live/session-service/internal/domain"
)

type Directory interface {
	Register(ctx context.Context, key domain.RoomKey) error
	Deregister(ctx context.Context, key domain.RoomKey) error
	// Nodes lists every node id hosting key, this node included.
	Nodes(ctx context.Context, key domain.RoomKey) ([]string, error)
	// HasRemote reports whether a node other than this one hosts key.
	HasRemote(ctx context.Context, key domain.RoomKey) (bool, error)
	StartHeartbeat(ctx context.Context, active func() []domain.RoomKey) error
	StopHeartbeat()
	Close() error
}
