package ports

import (
	"context"

	"github.com/mikey-austin/splice_box/pkg/sbx"
)

// Broker publishes commands and reads retained state/presence.
type Broker interface {
	ReplyTopic() string
	PublishCommand(ctx context.Context, nodeID string, cmd sbx.CommandEnvelope) (sbx.ReplyEnvelope, error)
	ListPresence(ctx context.Context) ([]sbx.Presence, error)
	GetPlayerState(ctx context.Context, nodeID string) (sbx.PlayerStatus, error)
	WatchPlayer(ctx context.Context, nodeID string) (<-chan sbx.PlayerStatus, <-chan sbx.TriggerEvent, <-chan error)
}

// Clock returns the current unix time in seconds.
type Clock interface {
	NowUnix() int64
}

// IDGen returns unique correlation IDs.
type IDGen interface {
	NewID() string
}
