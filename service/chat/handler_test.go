package chat

import (
	"context"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureArchive struct {
	mu   sync.Mutex
	recs []*MessageRecord
}

func (a *captureArchive) Publish(rec *MessageRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recs = append(a.recs, rec)
}

func (a *captureArchive) published() []*MessageRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*MessageRecord(nil), a.recs...)
}

type errMembership struct{}

func (errMembership) IsMember(context.Context, string, string) (bool, error) {
	return true, errors.New("membership store unreachable")
}

func inbound(event string, data map[string]any) *Envelope {
	return &Envelope{Event: event, Data: data}
}

func joinRoom(t *testing.T, s *Server, c *Client, room string) {
	t.Helper()
	s.handleFrame(c, inbound(EventJoinChatroom, map[string]any{"chatroom_id": room}))
	require.True(t, s.subs.IsJoined(c.UserID, room))
}

func TestJoinBroadcastsToOtherMembers(t *testing.T) {
	s := newTestServer(t, Deps{Membership: allowMembership{}})

	alice := addClient(t, s, "alice")
	bob := addClient(t, s, "bob")
	joinRoom(t, s, alice, "general")
	drainEvents(t, alice)
	drainEvents(t, bob)

	joinRoom(t, s, bob, "general")

	envs := drainEvents(t, alice)
	require.Equal(t, 1, countEvents(envs, EventUserJoined))
	user := envs[0].Data["user"].(map[string]any)
	assert.Equal(t, "bob", user["id"])
	assert.Equal(t, "bob", user["display_name"])
	assert.Equal(t, "general", envs[0].Data["chatroom_id"])

	assert.Empty(t, drainEvents(t, bob), "joiner gets no echo of their own join")
}

func TestJoinDeniedByMembership(t *testing.T) {
	s := newTestServer(t, Deps{Membership: denyMembership{}})

	alice := addClient(t, s, "alice")
	s.handleFrame(alice, inbound(EventJoinChatroom, map[string]any{"chatroom_id": "general"}))

	assert.False(t, s.subs.IsJoined("alice", "general"))
	assert.Empty(t, drainEvents(t, alice))
}

func TestJoinDeniedOnMembershipError(t *testing.T) {
	s := newTestServer(t, Deps{Membership: errMembership{}})

	alice := addClient(t, s, "alice")
	s.handleFrame(alice, inbound(EventJoinChatroom, map[string]any{"chatroom_id": "general"}))

	assert.False(t, s.subs.IsJoined("alice", "general"),
		"an unreachable membership store denies, never permits")
}

func TestLeaveBroadcastsAndUnsubscribes(t *testing.T) {
	s := newTestServer(t, Deps{})

	alice := addClient(t, s, "alice")
	bob := addClient(t, s, "bob")
	joinRoom(t, s, alice, "general")
	joinRoom(t, s, bob, "general")
	drainEvents(t, alice)
	drainEvents(t, bob)

	s.handleFrame(alice, inbound(EventLeaveChatroom, map[string]any{"chatroom_id": "general"}))

	assert.False(t, s.subs.IsJoined("alice", "general"))
	envs := drainEvents(t, bob)
	require.Equal(t, 1, countEvents(envs, EventUserLeft))
	assert.Equal(t, "alice", envs[0].Data["user_id"])
	assert.Empty(t, drainEvents(t, alice))
}

func TestSendMessageFanout(t *testing.T) {
	store := &captureStore{}
	archive := &captureArchive{}
	s := newTestServer(t, Deps{Membership: allowMembership{}, Store: store, Archive: archive})

	alice := addClient(t, s, "alice")
	bob := addClient(t, s, "bob")
	joinRoom(t, s, alice, "general")
	joinRoom(t, s, bob, "general")
	drainEvents(t, alice)
	drainEvents(t, bob)

	s.handleFrame(alice, inbound(EventSendMessage, map[string]any{
		"chatroom_id": "general",
		"content":     "hi",
		"client_id":   "c-1",
	}))

	for _, c := range []*Client{alice, bob} {
		envs := drainEvents(t, c)
		require.Equal(t, 1, countEvents(envs, EventMessageReceived),
			"every member, sender included, gets exactly one copy")
		msg := envs[0].Data["message"].(map[string]any)
		assert.Equal(t, "hi", msg["content"])
		assert.Equal(t, "alice", msg["user_id"])
		assert.Equal(t, "alice", msg["display_name"])
		assert.Equal(t, "text", msg["message_type"])
		assert.Equal(t, "c-1", msg["client_id"])
		assert.Equal(t, []any{}, msg["reactions"], "fresh messages carry an empty reaction list")
		assert.NotEmpty(t, msg["id"])
		assert.NotEmpty(t, msg["timestamp"])
	}

	waitUntil(t, testWait, func() bool { return len(store.saved()) == 1 })
	assert.Equal(t, "hi", store.saved()[0].Content)
	require.Len(t, archive.published(), 1)
	assert.Equal(t, "general", archive.published()[0].ChatroomID)
}

func TestSendMessageRejectedWhenNotJoined(t *testing.T) {
	store := &captureStore{}
	s := newTestServer(t, Deps{Membership: allowMembership{}, Store: store})

	alice := addClient(t, s, "alice")
	bob := addClient(t, s, "bob")
	joinRoom(t, s, bob, "general")
	drainEvents(t, bob)

	// Authorized but never joined: the send is rejected outright.
	s.handleFrame(alice, inbound(EventSendMessage, map[string]any{
		"chatroom_id": "general",
		"content":     "sneaky",
	}))

	assert.Empty(t, drainEvents(t, bob))
	assert.Empty(t, store.saved())
}

func TestSendMessageMalformedIgnored(t *testing.T) {
	s := newTestServer(t, Deps{})
	alice := addClient(t, s, "alice")
	joinRoom(t, s, alice, "general")
	drainEvents(t, alice)

	s.handleFrame(alice, inbound(EventSendMessage, map[string]any{"chatroom_id": "general"}))
	s.handleFrame(alice, inbound(EventSendMessage, map[string]any{"content": "orphan"}))

	assert.Empty(t, drainEvents(t, alice), "malformed envelopes produce nothing and keep the connection alive")
}

func TestTypingIndicatorExcludesTypistAndNonMembers(t *testing.T) {
	s := newTestServer(t, Deps{})

	alice := addClient(t, s, "alice")
	bob := addClient(t, s, "bob")
	carol := addClient(t, s, "carol")
	joinRoom(t, s, alice, "general")
	joinRoom(t, s, bob, "general")
	joinRoom(t, s, carol, "lounge")
	drainEvents(t, alice)
	drainEvents(t, bob)
	drainEvents(t, carol)

	s.handleFrame(alice, inbound(EventTypingStart, map[string]any{"chatroom_id": "general"}))

	envs := drainEvents(t, bob)
	require.Equal(t, 1, countEvents(envs, EventTypingIndicator))
	assert.Equal(t, true, envs[0].Data["is_typing"])
	assert.Equal(t, "alice", envs[0].Data["user_id"])

	assert.Empty(t, drainEvents(t, alice), "typist never sees their own indicator")
	assert.Empty(t, drainEvents(t, carol))

	s.handleFrame(alice, inbound(EventTypingStop, map[string]any{"chatroom_id": "general"}))
	envs = drainEvents(t, bob)
	require.Equal(t, 1, countEvents(envs, EventTypingIndicator))
	assert.Equal(t, false, envs[0].Data["is_typing"])
}

func TestTypingRequiresSubscription(t *testing.T) {
	s := newTestServer(t, Deps{})

	alice := addClient(t, s, "alice")
	bob := addClient(t, s, "bob")
	joinRoom(t, s, bob, "general")
	drainEvents(t, bob)

	s.handleFrame(alice, inbound(EventTypingStart, map[string]any{"chatroom_id": "general"}))
	assert.Empty(t, drainEvents(t, bob))
}

func TestPingAnswersOnSameConnectionOnly(t *testing.T) {
	s := newTestServer(t, Deps{})

	c1 := addClient(t, s, "alice")
	c2 := addClient(t, s, "alice")

	s.handleFrame(c1, inbound(EventPing, nil))

	envs := drainEvents(t, c1)
	require.Equal(t, 1, countEvents(envs, EventPong))
	assert.Empty(t, drainEvents(t, c2), "pong targets the pinging connection, not the user")

	_, seen := s.presence.LastSeen("alice")
	assert.True(t, seen)
}

func TestUnknownEventTolerated(t *testing.T) {
	s := newTestServer(t, Deps{})
	alice := addClient(t, s, "alice")

	s.handleFrame(alice, inbound("self_destruct", map[string]any{"x": 1}))

	assert.Empty(t, drainEvents(t, alice))
	assert.True(t, s.registry.IsOnline("alice"), "unknown events never tear the connection down")
}

func TestBridgePublishOnLocalEvents(t *testing.T) {
	bridge := &captureBridge{}
	s := newTestServer(t, Deps{Membership: allowMembership{}, Bridge: bridge})

	alice := addClient(t, s, "alice")
	joinRoom(t, s, alice, "general")
	s.handleFrame(alice, inbound(EventSendMessage, map[string]any{
		"chatroom_id": "general",
		"content":     "hi",
	}))
	s.handleFrame(alice, inbound(EventLeaveChatroom, map[string]any{"chatroom_id": "general"}))

	frames := bridge.published()
	require.Len(t, frames, 3)
	for _, f := range frames {
		assert.Equal(t, "gw-test", f.Origin)
		assert.Equal(t, "general", f.ChatroomID)
	}
	assert.Equal(t, EventUserJoined, frames[0].Envelope.Event)
	assert.Equal(t, "alice", frames[0].ExcludeUser)
	assert.Equal(t, EventMessageReceived, frames[1].Envelope.Event)
	assert.Equal(t, "", frames[1].ExcludeUser, "messages bridge self-inclusive")
	assert.Equal(t, EventUserLeft, frames[2].Envelope.Event)
}

func TestBridgeInboundFrameDispatchedLocally(t *testing.T) {
	bridge := &captureBridge{}
	s := newTestServer(t, Deps{Bridge: bridge})

	bob := addClient(t, s, "bob")
	joinRoom(t, s, bob, "general")
	drainEvents(t, bob)

	rec := &MessageRecord{ID: "m-remote", ChatroomID: "general", UserID: "alice",
		Username: "alice", Content: "from afar", MessageType: "text", Timestamp: isoNow()}
	bridge.inject(&BridgeFrame{
		Origin:     "gw-remote",
		ChatroomID: "general",
		Envelope:   NewMessageReceived(rec),
	})

	envs := drainEvents(t, bob)
	require.Equal(t, 1, countEvents(envs, EventMessageReceived))
	msg := envs[0].Data["message"].(map[string]any)
	assert.Equal(t, "from afar", msg["content"])
}

func TestBridgeSelfOriginFrameDropped(t *testing.T) {
	bridge := &captureBridge{}
	s := newTestServer(t, Deps{Bridge: bridge})

	bob := addClient(t, s, "bob")
	joinRoom(t, s, bob, "general")
	drainEvents(t, bob)

	bridge.inject(&BridgeFrame{
		Origin:     s.GatewayID(),
		ChatroomID: "general",
		Envelope:   NewUserLeft("alice", "general"),
	})

	assert.Empty(t, drainEvents(t, bob), "frames this gateway published are not replayed to it")
}
