package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDropClientCascadeOnLastConnection(t *testing.T) {
	s := newTestServer(t, Deps{})

	alice := addClient(t, s, "alice")
	bob := addClient(t, s, "bob")
	joinRoom(t, s, alice, "general")
	joinRoom(t, s, bob, "general")
	drainEvents(t, alice)
	drainEvents(t, bob)

	s.dropClient(alice, "transport closed")

	assert.False(t, s.registry.IsOnline("alice"))
	assert.False(t, s.subs.IsJoined("alice", "general"))

	envs := drainEvents(t, bob)
	require.Equal(t, 1, countEvents(envs, EventUserOffline),
		"room mates get exactly one offline notice")
	assert.Equal(t, "alice", envs[0].Data["user_id"])
}

func TestDropClientKeepsUserWithRemainingConnections(t *testing.T) {
	s := newTestServer(t, Deps{})

	c1 := addClient(t, s, "alice")
	c2 := addClient(t, s, "alice")
	bob := addClient(t, s, "bob")
	joinRoom(t, s, c1, "general")
	joinRoom(t, s, bob, "general")
	drainEvents(t, bob)

	s.dropClient(c1, "transport closed")

	assert.True(t, s.registry.IsOnline("alice"))
	assert.True(t, s.subs.IsJoined("alice", "general"),
		"subscriptions are per user and survive a non-final disconnect")
	assert.Empty(t, drainEvents(t, bob), "no offline notice while a connection remains")

	s.dropClient(c2, "transport closed")
	assert.False(t, s.registry.IsOnline("alice"))
	envs := drainEvents(t, bob)
	assert.Equal(t, 1, countEvents(envs, EventUserOffline))
}

func TestDropClientIdempotentUnderConcurrentTriggers(t *testing.T) {
	s := newTestServer(t, Deps{})

	alice := addClient(t, s, "alice")
	bob := addClient(t, s, "bob")
	joinRoom(t, s, alice, "general")
	joinRoom(t, s, bob, "general")
	drainEvents(t, bob)

	// Transport error and idle reaper racing over the same connection.
	done := make(chan struct{}, 2)
	go func() { s.dropClient(alice, "transport closed"); done <- struct{}{} }()
	go func() { s.dropClient(alice, "idle timeout"); done <- struct{}{} }()
	<-done
	<-done

	envs := drainEvents(t, bob)
	assert.Equal(t, 1, countEvents(envs, EventUserOffline),
		"concurrent teardown triggers collapse to one offline broadcast")
}

func TestSweepReapsIdleConnections(t *testing.T) {
	s := newTestServer(t, Deps{})

	idle := addClient(t, s, "alice")
	active := addClient(t, s, "bob")

	// Backdate the idle connection past the timeout; keep the other fresh.
	idle.lastActivity.Store(time.Now().Add(-2 * time.Hour).UnixNano())
	active.Touch()

	s.sweepOnce(time.Now())

	assert.False(t, s.registry.IsOnline("alice"))
	assert.True(t, s.registry.IsOnline("bob"))
}

func TestStats(t *testing.T) {
	s := newTestServer(t, Deps{})

	alice := addClient(t, s, "alice")
	addClient(t, s, "alice")
	bob := addClient(t, s, "bob")
	joinRoom(t, s, alice, "general")
	joinRoom(t, s, bob, "general")
	joinRoom(t, s, bob, "lounge")

	stats := s.Stats()
	assert.Equal(t, "gw-test", stats["gateway_id"])
	assert.Equal(t, 3, stats["total_connections"])
	assert.Equal(t, 2, stats["online_users"])
	assert.Equal(t, 2, stats["active_chatrooms"])
	assert.Equal(t, 3, stats["total_subscriptions"])
}

func TestCloseDropsEveryClient(t *testing.T) {
	s := newTestServer(t, Deps{})

	addClient(t, s, "alice")
	addClient(t, s, "bob")

	s.Close()

	assert.Equal(t, 0, s.registry.TotalConnections())
	assert.Equal(t, 0, s.subs.RoomCount())
}
