package chat

import (
	"sync"
)

// Registry owns the mapping from user id to that user's live connections.
// Both indexes are sharded so contention stays local to the key being
// mutated: connections of unrelated users never serialize on a common lock.
// Sends happen outside any lock, on snapshots.
type Registry struct {
	users [shardCount]userShard // keyed by user id
	conns [shardCount]connShard // keyed by conn id

	// onDead is invoked (outside the locks) for a connection whose delivery
	// handle failed; the server wires it to the teardown path.
	onDead func(*Client)
}

type userShard struct {
	mu     sync.RWMutex
	byUser map[string]map[string]*Client // user -> conn_id -> client
}

type connShard struct {
	mu     sync.RWMutex
	byConn map[string]*Client // conn_id -> client
}

func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.users {
		r.users[i].byUser = make(map[string]map[string]*Client)
	}
	for i := range r.conns {
		r.conns[i].byConn = make(map[string]*Client)
	}
	return r
}

func (r *Registry) userShard(userID string) *userShard {
	return &r.users[shardIndex(userID)]
}

func (r *Registry) connShard(connID string) *connShard {
	return &r.conns[shardIndex(connID)]
}

// OnDead installs the dead-connection callback. Must be set before traffic.
func (r *Registry) OnDead(fn func(*Client)) { r.onDead = fn }

// Add registers a connection under its user. Reports whether this was the
// user's first live connection (the online transition). The user index is
// populated before the conn index: Remove gates on the conn index, so a
// successful removal always finds its user entry.
func (r *Registry) Add(c *Client) (first bool) {
	us := r.userShard(c.UserID)
	us.mu.Lock()
	m := us.byUser[c.UserID]
	if m == nil {
		m = make(map[string]*Client)
		us.byUser[c.UserID] = m
		first = true
	}
	m[c.ConnID] = c
	us.mu.Unlock()

	cs := r.connShard(c.ConnID)
	cs.mu.Lock()
	cs.byConn[c.ConnID] = c
	cs.mu.Unlock()
	return first
}

// Remove deregisters a connection. Idempotent: the conn-index delete is the
// linearization point, so a second call for the same conn id reports
// removed=false. last is true when the user has no remaining connections,
// which triggers the offline cascade in the caller.
func (r *Registry) Remove(connID string) (c *Client, removed, last bool) {
	cs := r.connShard(connID)
	cs.mu.Lock()
	c, ok := cs.byConn[connID]
	if !ok {
		cs.mu.Unlock()
		return nil, false, false
	}
	delete(cs.byConn, connID)
	cs.mu.Unlock()

	us := r.userShard(c.UserID)
	us.mu.Lock()
	if m := us.byUser[c.UserID]; m != nil {
		delete(m, connID)
		if len(m) == 0 {
			delete(us.byUser, c.UserID)
			last = true
		}
	}
	us.mu.Unlock()
	return c, true, last
}

// Get looks up a connection by id.
func (r *Registry) Get(connID string) (*Client, bool) {
	cs := r.connShard(connID)
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	c, ok := cs.byConn[connID]
	return c, ok
}

// ClientsOf snapshots the user's live connections.
func (r *Registry) ClientsOf(userID string) []*Client {
	us := r.userShard(userID)
	us.mu.RLock()
	defer us.mu.RUnlock()
	m := us.byUser[userID]
	if len(m) == 0 {
		return nil
	}
	out := make([]*Client, 0, len(m))
	for _, c := range m {
		out = append(out, c)
	}
	return out
}

// Deliver enqueues the payload on every live connection of the user and
// returns how many accepted it. A connection that refuses the payload (queue
// closed or saturated) is handed to onDead and never stalls its siblings.
func (r *Registry) Deliver(userID string, payload []byte) int {
	clients := r.ClientsOf(userID)
	delivered := 0
	for _, c := range clients {
		if c.enqueue(payload) {
			delivered++
			continue
		}
		if r.onDead != nil {
			r.onDead(c)
		}
	}
	return delivered
}

func (r *Registry) ConnectionCount(userID string) int {
	us := r.userShard(userID)
	us.mu.RLock()
	defer us.mu.RUnlock()
	return len(us.byUser[userID])
}

func (r *Registry) IsOnline(userID string) bool {
	us := r.userShard(userID)
	us.mu.RLock()
	defer us.mu.RUnlock()
	return len(us.byUser[userID]) > 0
}

func (r *Registry) OnlineUsers() []string {
	out := make([]string, 0, 64)
	for i := range r.users {
		us := &r.users[i]
		us.mu.RLock()
		for u := range us.byUser {
			out = append(out, u)
		}
		us.mu.RUnlock()
	}
	return out
}

func (r *Registry) TotalConnections() int {
	n := 0
	for i := range r.conns {
		cs := &r.conns[i]
		cs.mu.RLock()
		n += len(cs.byConn)
		cs.mu.RUnlock()
	}
	return n
}

// AllClients snapshots every live connection. Used by the idle sweeper and
// shutdown; not on the delivery hot path.
func (r *Registry) AllClients() []*Client {
	out := make([]*Client, 0, 64)
	for i := range r.conns {
		cs := &r.conns[i]
		cs.mu.RLock()
		for _, c := range cs.byConn {
			out = append(out, c)
		}
		cs.mu.RUnlock()
	}
	return out
}
