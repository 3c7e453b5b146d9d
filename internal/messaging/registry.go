package messaging

import (
	"sync"
)

// appConn is an experience application's connection.
type appConn struct {
	*conn
	experienceID string
}

// clientConn is a remote client's connection. accepted flips once the app
// grants access; until then only connection requests are forwarded.
type clientConn struct {
	*conn
	id string

	stateMu  sync.Mutex
	accepted bool
}

func (c *clientConn) isAccepted() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.accepted
}

func (c *clientConn) setAccepted() {
	c.stateMu.Lock()
	c.accepted = true
	c.stateMu.Unlock()
}

// channel is one experience's message fabric: at most one app plus any number
// of clients.
type channel struct {
	id      string
	app     *appConn
	clients map[string]*clientConn
}

// registry maps experience ids to channels. Channels outlive both sides: a
// client can connect before its app and vice versa.
type registry struct {
	mu       sync.Mutex
	channels map[string]*channel
}

func newRegistry() *registry {
	return &registry{channels: map[string]*channel{}}
}

func (r *registry) channelLocked(id string) *channel {
	ch, ok := r.channels[id]
	if !ok {
		ch = &channel{id: id, clients: map[string]*clientConn{}}
		r.channels[id] = ch
	}
	return ch
}

// setApp installs a channel's app, returning the displaced one if any.
func (r *registry) setApp(id string, app *appConn) *appConn {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := r.channelLocked(id)
	previous := ch.app
	ch.app = app
	return previous
}

// removeApp drops the channel's app if it is still the given one.
func (r *registry) removeApp(id string, app *appConn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[id]
	if !ok || ch.app != app {
		return
	}
	ch.app = nil
	r.pruneLocked(id)
}

func (r *registry) addClient(id string, client *clientConn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channelLocked(id).clients[client.id] = client
}

func (r *registry) removeClient(id string, client *clientConn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[id]
	if !ok {
		return
	}
	if existing, present := ch.clients[client.id]; present && existing == client {
		delete(ch.clients, client.id)
	}
	r.pruneLocked(id)
}

func (r *registry) pruneLocked(id string) {
	ch, ok := r.channels[id]
	if ok && ch.app == nil && len(ch.clients) == 0 {
		delete(r.channels, id)
	}
}

// app returns the channel's current app connection.
func (r *registry) app(id string) *appConn {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[id]
	if !ok {
		return nil
	}
	return ch.app
}

// client returns one client on a channel.
func (r *registry) client(id, clientID string) *clientConn {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[id]
	if !ok {
		return nil
	}
	return ch.clients[clientID]
}

// snapshot returns every channel's app and clients for the heartbeat loop.
func (r *registry) snapshot() []channelSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]channelSnapshot, 0, len(r.channels))
	for _, ch := range r.channels {
		snap := channelSnapshot{id: ch.id, app: ch.app}
		for _, client := range ch.clients {
			snap.clients = append(snap.clients, client)
		}
		out = append(out, snap)
	}
	return out
}

type channelSnapshot struct {
	id      string
	app     *appConn
	clients []*clientConn
}
