package chat

import (
	"context"
	"sync"
	"time"

	"chatgate/logger"
	"chatgate/tools/safe"
)

// PresenceMirror replicates online/offline transitions to shared storage so
// other gateway processes can answer "which gateway holds this user".
type PresenceMirror interface {
	Online(ctx context.Context, userID, gatewayID string) error
	Offline(ctx context.Context, userID string) error
}

const mirrorTimeout = 2 * time.Second

// PresenceTracker derives online state purely from registry transitions: it
// has no independent write path. online == connection count > 0, evaluated at
// the single point where the count changes (server register/teardown).
// last_seen records are lazily materialized.
type PresenceTracker struct {
	gatewayID string
	disp      *Dispatcher
	subs      *SubscriptionIndex
	mirror    PresenceMirror // optional

	mu       sync.RWMutex
	lastSeen map[string]time.Time
}

func NewPresenceTracker(gatewayID string, disp *Dispatcher, subs *SubscriptionIndex, mirror PresenceMirror) *PresenceTracker {
	return &PresenceTracker{
		gatewayID: gatewayID,
		disp:      disp,
		subs:      subs,
		mirror:    mirror,
		lastSeen:  make(map[string]time.Time),
	}
}

// UserOnline handles the first-connection transition: refresh last_seen,
// mirror the transition, and notify every user sharing at least one chatroom.
func (p *PresenceTracker) UserOnline(userID, username string) {
	p.touch(userID)
	p.mirrorOnline(userID)
	p.broadcastStatus(userID, username, p.subs.Rooms(userID), true)
}

// UserOffline handles the last-connection removal. rooms is the set the user
// was joined to before the subscription purge; the purge must complete before
// this runs so membership queries no longer report the departed user.
func (p *PresenceTracker) UserOffline(userID, username string, rooms []string) {
	p.touch(userID)
	if p.mirror != nil {
		safe.SafeGo(func() {
			ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
			defer cancel()
			if err := p.mirror.Offline(ctx, userID); err != nil {
				logger.Warnf("[presence] mirror offline user=%s err=%v", userID, err)
			}
		})
	}
	p.broadcastStatus(userID, username, rooms, false)
}

// Heartbeat refreshes last_seen and renews the mirror TTL.
func (p *PresenceTracker) Heartbeat(userID string) {
	p.touch(userID)
	p.mirrorOnline(userID)
}

// LastSeen reports the most recent transition or heartbeat for the user.
func (p *PresenceTracker) LastSeen(userID string) (time.Time, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	t, ok := p.lastSeen[userID]
	return t, ok
}

// TrackedUsers reports how many users have a materialized presence record.
func (p *PresenceTracker) TrackedUsers() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.lastSeen)
}

func (p *PresenceTracker) touch(userID string) {
	p.mu.Lock()
	p.lastSeen[userID] = time.Now()
	p.mu.Unlock()
}

func (p *PresenceTracker) mirrorOnline(userID string) {
	if p.mirror == nil {
		return
	}
	safe.SafeGo(func() {
		ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
		defer cancel()
		if err := p.mirror.Online(ctx, userID, p.gatewayID); err != nil {
			logger.Warnf("[presence] mirror online user=%s err=%v", userID, err)
		}
	})
}

// broadcastStatus sends user_online/user_offline to every user sharing at
// least one of the given rooms, excluding the subject.
func (p *PresenceTracker) broadcastStatus(userID, username string, rooms []string, online bool) {
	relevant := make(map[string]struct{})
	for _, room := range rooms {
		for _, member := range p.subs.Members(room) {
			relevant[member] = struct{}{}
		}
	}
	delete(relevant, userID)
	if len(relevant) == 0 {
		return
	}

	env := NewUserStatus(userID, username, online)
	for target := range relevant {
		p.disp.ToUser(target, env)
	}
}
