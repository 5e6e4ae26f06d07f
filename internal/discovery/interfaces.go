package discovery

import (
	"context"

	"github.com/rmacdonaldsmith/meshbroker-go/pkg/peerlink"
)

// Discovery defines the interface for node discovery mechanisms
type Discovery interface {
	// FindPeers returns the peers a joining node bootstraps against
	FindPeers(ctx context.Context) ([]peerlink.PeerAddress, error)
}
