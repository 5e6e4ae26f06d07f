package discovery

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rmacdonaldsmith/meshbroker-go/pkg/peerlink"
)

// StaticDiscovery implements Discovery using a static list of seed nodes
type StaticDiscovery struct {
	seeds []peerlink.PeerAddress
}

// NewStaticDiscovery creates a new static discovery service with the given seed nodes
func NewStaticDiscovery(seeds ...peerlink.PeerAddress) *StaticDiscovery {
	return &StaticDiscovery{
		seeds: seeds,
	}
}

// FindPeers returns the seed list. Seeds are assumed reachable; the dialer
// retries the ones that are not.
func (s *StaticDiscovery) FindPeers(ctx context.Context) ([]peerlink.PeerAddress, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	peers := make([]peerlink.PeerAddress, len(s.seeds))
	copy(peers, s.seeds)
	return peers, nil
}

// ParseSeed parses "host:sessions_port:clients_port". The host may be a
// bracketed IPv6 literal.
func ParseSeed(seed string) (peerlink.PeerAddress, error) {
	last := strings.LastIndex(seed, ":")
	if last <= 0 {
		return peerlink.PeerAddress{}, fmt.Errorf("seed %q: want host:sessions_port:clients_port", seed)
	}
	middle := strings.LastIndex(seed[:last], ":")
	if middle <= 0 {
		return peerlink.PeerAddress{}, fmt.Errorf("seed %q: want host:sessions_port:clients_port", seed)
	}
	host := strings.TrimSuffix(strings.TrimPrefix(seed[:middle], "["), "]")
	sessionsPort, err := parsePort(seed[middle+1 : last])
	if err != nil {
		return peerlink.PeerAddress{}, fmt.Errorf("seed %q: sessions port: %w", seed, err)
	}
	clientsPort, err := parsePort(seed[last+1:])
	if err != nil {
		return peerlink.PeerAddress{}, fmt.Errorf("seed %q: clients port: %w", seed, err)
	}
	return peerlink.PeerAddress{Host: host, SessionsPort: sessionsPort, ClientsPort: clientsPort}, nil
}

// ParseSeeds parses every seed and stops at the first malformed one.
func ParseSeeds(seeds []string) ([]peerlink.PeerAddress, error) {
	out := make([]peerlink.PeerAddress, 0, len(seeds))
	for _, seed := range seeds {
		seed = strings.TrimSpace(seed)
		if seed == "" {
			continue
		}
		address, err := ParseSeed(seed)
		if err != nil {
			return nil, err
		}
		out = append(out, address)
	}
	return out, nil
}

func parsePort(text string) (int, error) {
	port, err := strconv.Atoi(text)
	if err != nil {
		return 0, err
	}
	if port <= 0 || port > 65535 {
		return 0, fmt.Errorf("port %d out of range", port)
	}
	return port, nil
}
