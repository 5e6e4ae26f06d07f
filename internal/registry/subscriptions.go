package registry

import (
	"sort"

	"github.com/rmacdonaldsmith/meshbroker-go/pkg/registry"
)

type clientChannel struct {
	client  string
	channel string
}

type rowSet map[registry.Subscription]struct{}

func (s rowSet) add(row registry.Subscription) { s[row] = struct{}{} }

// subscriptionIndex holds every subscription row once plus one secondary
// index per lookup path. It is not synchronized; State guards it.
type subscriptionIndex struct {
	rows            rowSet
	bySession       map[string]rowSet
	byClient        map[string]rowSet
	byChannel       map[string]rowSet
	byClientChannel map[clientChannel]rowSet
}

func newSubscriptionIndex() *subscriptionIndex {
	return &subscriptionIndex{
		rows:            make(rowSet),
		bySession:       make(map[string]rowSet),
		byClient:        make(map[string]rowSet),
		byChannel:       make(map[string]rowSet),
		byClientChannel: make(map[clientChannel]rowSet),
	}
}

func (x *subscriptionIndex) insert(row registry.Subscription) bool {
	if _, exists := x.rows[row]; exists {
		return false
	}
	x.rows.add(row)
	link(x.bySession, row.SessionID, row)
	link(x.byClient, row.ClientID, row)
	link(x.byChannel, row.Channel, row)
	link(x.byClientChannel, clientChannel{row.ClientID, row.Channel}, row)
	return true
}

func (x *subscriptionIndex) erase(row registry.Subscription) bool {
	if _, exists := x.rows[row]; !exists {
		return false
	}
	delete(x.rows, row)
	unlink(x.bySession, row.SessionID, row)
	unlink(x.byClient, row.ClientID, row)
	unlink(x.byChannel, row.Channel, row)
	unlink(x.byClientChannel, clientChannel{row.ClientID, row.Channel}, row)
	return true
}

func (x *subscriptionIndex) eraseSession(sessionID string) int {
	return x.eraseAll(x.bySession[sessionID])
}

func (x *subscriptionIndex) eraseClient(clientID string) int {
	return x.eraseAll(x.byClient[clientID])
}

func (x *subscriptionIndex) eraseAll(rows rowSet) int {
	victims := make([]registry.Subscription, 0, len(rows))
	for row := range rows {
		victims = append(victims, row)
	}
	for _, row := range victims {
		x.erase(row)
	}
	return len(victims)
}

func (x *subscriptionIndex) has(clientID, channel string) bool {
	return len(x.byClientChannel[clientChannel{clientID, channel}]) > 0
}

func (x *subscriptionIndex) channel(channel string) []registry.Subscription {
	return sorted(x.byChannel[channel])
}

func (x *subscriptionIndex) session(sessionID string) []registry.Subscription {
	return sorted(x.bySession[sessionID])
}

func (x *subscriptionIndex) all() []registry.Subscription {
	return sorted(x.rows)
}

func (x *subscriptionIndex) len() int {
	return len(x.rows)
}

func link[K comparable](index map[K]rowSet, key K, row registry.Subscription) {
	set, ok := index[key]
	if !ok {
		set = make(rowSet)
		index[key] = set
	}
	set.add(row)
}

func unlink[K comparable](index map[K]rowSet, key K, row registry.Subscription) {
	set, ok := index[key]
	if !ok {
		return
	}
	delete(set, row)
	if len(set) == 0 {
		delete(index, key)
	}
}

// sorted returns rows ordered by session, client, channel so snapshots are
// stable across calls.
func sorted(rows rowSet) []registry.Subscription {
	out := make([]registry.Subscription, 0, len(rows))
	for row := range rows {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SessionID != out[j].SessionID {
			return out[i].SessionID < out[j].SessionID
		}
		if out[i].ClientID != out[j].ClientID {
			return out[i].ClientID < out[j].ClientID
		}
		return out[i].Channel < out[j].Channel
	})
	return out
}
