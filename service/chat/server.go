package chat

import (
	"sync"
	"time"

	"chatgate/logger"
	"chatgate/tools/safe"
)

// Options configures the gateway server.
type Options struct {
	GatewayID     string
	SendQueueSize int           // per-connection outbound queue
	WriteTimeout  time.Duration // bound on a single network write
	IdleTimeout   time.Duration // reap connections idle longer than this
	SweepEvery    time.Duration // idle sweeper period
}

func (o *Options) norm() {
	if o.GatewayID == "" {
		o.GatewayID = "gw-1"
	}
	if o.SendQueueSize <= 0 {
		o.SendQueueSize = 256
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 30 * time.Minute
	}
	if o.SweepEvery <= 0 {
		o.SweepEvery = 10 * time.Second
	}
}

// Deps are the external collaborators. Everything except Auth may be nil,
// which disables that concern (used heavily by tests).
type Deps struct {
	Auth       Authenticator
	Membership Membership
	Store      MessageStore
	Archive    MessageArchive
	Bridge     Bridge
	Mirror     PresenceMirror
}

// Server wires the registry, subscription index, presence tracker, dispatcher
// and fan-out bridge together and runs the per-connection protocol handlers.
type Server struct {
	opts Options

	registry *Registry
	subs     *SubscriptionIndex
	presence *PresenceTracker
	disp     *Dispatcher

	auth       Authenticator
	membership Membership
	store      MessageStore
	archive    MessageArchive
	bridge     Bridge

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewServer(opts Options, deps Deps) (*Server, error) {
	opts.norm()

	registry := NewRegistry()
	subs := NewSubscriptionIndex()
	disp := NewDispatcher(registry, subs)

	s := &Server{
		opts:       opts,
		registry:   registry,
		subs:       subs,
		disp:       disp,
		presence:   NewPresenceTracker(opts.GatewayID, disp, subs, deps.Mirror),
		auth:       deps.Auth,
		membership: deps.Membership,
		store:      deps.Store,
		archive:    deps.Archive,
		bridge:     deps.Bridge,
		stopCh:     make(chan struct{}),
	}
	registry.OnDead(func(c *Client) {
		safe.SafeGo(func() { s.dropClient(c, "delivery failure") })
	})

	if s.bridge != nil {
		if err := s.bridge.Subscribe(s.onBridgeFrame); err != nil {
			return nil, err
		}
	}

	go s.sweeper()
	return s, nil
}

func (s *Server) GatewayID() string            { return s.opts.GatewayID }
func (s *Server) Registry() *Registry          { return s.registry }
func (s *Server) Subscriptions() *SubscriptionIndex { return s.subs }
func (s *Server) Presence() *PresenceTracker   { return s.presence }
func (s *Server) Dispatcher() *Dispatcher      { return s.disp }

// register moves an authenticated client to ACTIVE: registry add, presence
// online transition on the user's first connection.
func (s *Server) register(c *Client) {
	if first := s.registry.Add(c); first {
		s.presence.UserOnline(c.UserID, c.Username)
	}
	logger.Infof("[ws] connected user=%s conn=%s connections=%d",
		c.UserID, c.ConnID, s.registry.ConnectionCount(c.UserID))
}

// dropClient is the single ACTIVE -> CLOSED path, shared by transport errors,
// delivery failures and the idle reaper. Idempotent: concurrent triggers
// cannot double-purge subscriptions or double-broadcast offline.
func (s *Server) dropClient(c *Client, reason string) {
	c.shutdown()

	_, removed, last := s.registry.Remove(c.ConnID)
	if !removed {
		return
	}
	logger.Infof("[ws] disconnected user=%s conn=%s reason=%s remaining=%d",
		c.UserID, c.ConnID, reason, s.registry.ConnectionCount(c.UserID))

	if !last {
		return
	}
	// Cascading cleanup: purge every room membership first, then broadcast
	// offline to the users who shared those rooms. The order matters: after
	// the purge a membership query can no longer report the departed user.
	rooms := s.subs.PurgeUser(c.UserID)
	s.presence.UserOffline(c.UserID, c.Username, rooms)
}

// onBridgeFrame re-invokes the local dispatcher for frames published by other
// gateway processes. Self-origin frames are dropped: local recipients were
// already served when the frame was published.
func (s *Server) onBridgeFrame(f *BridgeFrame) {
	if f == nil || f.Envelope == nil || f.Origin == s.opts.GatewayID {
		return
	}
	s.disp.ToChatroom(f.ChatroomID, f.Envelope, f.ExcludeUser)
}

// ---- idle reaping ----

func (s *Server) sweeper() {
	t := time.NewTicker(s.opts.SweepEvery)
	defer t.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case now := <-t.C:
			s.sweepOnce(now)
		}
	}
}

func (s *Server) sweepOnce(now time.Time) {
	for _, c := range s.registry.AllClients() {
		if now.Sub(c.LastActivity()) > s.opts.IdleTimeout {
			logger.Infof("[ws] reaping idle connection user=%s conn=%s idle=%s",
				c.UserID, c.ConnID, now.Sub(c.LastActivity()))
			s.dropClient(c, "idle timeout")
		}
	}
}

// Stats reports gateway-level counters for the /stats endpoint.
func (s *Server) Stats() map[string]any {
	return map[string]any{
		"gateway_id":            s.opts.GatewayID,
		"total_connections":     s.registry.TotalConnections(),
		"online_users":          len(s.registry.OnlineUsers()),
		"active_chatrooms":      s.subs.RoomCount(),
		"total_subscriptions":   s.subs.TotalSubscriptions(),
		"user_presence_tracked": s.presence.TrackedUsers(),
	}
}

// Close stops the sweeper, the bridge subscription and every live connection.
func (s *Server) Close() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	if s.bridge != nil {
		if err := s.bridge.Close(); err != nil {
			logger.Warnf("[ws] bridge close err=%v", err)
		}
	}
	for _, c := range s.registry.AllClients() {
		s.dropClient(c, "server shutdown")
	}
}
