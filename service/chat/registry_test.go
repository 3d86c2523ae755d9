package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatgate/tools/ids"
)

func newFakeClient(user string, queue int) *Client {
	return NewClient(ids.GenerateString(), user, user, user, &fakeConn{}, queue)
}

func TestRegistryAddFirstConnection(t *testing.T) {
	r := NewRegistry()

	c1 := newFakeClient("alice", 8)
	first := r.Add(c1)
	assert.True(t, first)
	assert.True(t, r.IsOnline("alice"))
	assert.Equal(t, 1, r.ConnectionCount("alice"))

	c2 := newFakeClient("alice", 8)
	first = r.Add(c2)
	assert.False(t, first, "second connection is not an online transition")
	assert.Equal(t, 2, r.ConnectionCount("alice"))
}

func TestRegistryRemoveKeepsOnlineUntilLast(t *testing.T) {
	r := NewRegistry()

	const k = 3
	clients := make([]*Client, 0, k)
	for i := 0; i < k; i++ {
		c := newFakeClient("bob", 8)
		r.Add(c)
		clients = append(clients, c)
	}

	for i := 0; i < k-1; i++ {
		_, removed, last := r.Remove(clients[i].ConnID)
		require.True(t, removed)
		assert.False(t, last)
		assert.True(t, r.IsOnline("bob"))
	}

	_, removed, last := r.Remove(clients[k-1].ConnID)
	require.True(t, removed)
	assert.True(t, last, "removing the k-th connection transitions offline")
	assert.False(t, r.IsOnline("bob"))
}

func TestRegistryRemoveIdempotent(t *testing.T) {
	r := NewRegistry()
	c := newFakeClient("carol", 8)
	r.Add(c)

	_, removed, last := r.Remove(c.ConnID)
	assert.True(t, removed)
	assert.True(t, last)

	_, removed, last = r.Remove(c.ConnID)
	assert.False(t, removed, "second remove of the same conn is a no-op")
	assert.False(t, last)
}

func TestRegistryDeliverIsolatesBrokenConnection(t *testing.T) {
	r := NewRegistry()

	var dead []*Client
	r.OnDead(func(c *Client) { dead = append(dead, c) })

	healthy := newFakeClient("dave", 8)
	broken := newFakeClient("dave", 8)
	r.Add(healthy)
	r.Add(broken)

	// Break one connection before delivery.
	broken.shutdown()

	delivered := r.Deliver("dave", []byte(`{"event":"pong","data":{}}`))
	assert.Equal(t, 1, delivered, "delivery succeeds on the remaining live connection")
	require.Len(t, dead, 1)
	assert.Equal(t, broken.ConnID, dead[0].ConnID)

	select {
	case <-healthy.Send:
	default:
		t.Fatal("healthy connection did not receive the payload")
	}
}

func TestRegistryDeliverUnknownUser(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, 0, r.Deliver("ghost", []byte("{}")))
}

func TestRegistryOnlineUsers(t *testing.T) {
	r := NewRegistry()
	r.Add(newFakeClient("alice", 8))
	r.Add(newFakeClient("bob", 8))
	r.Add(newFakeClient("bob", 8))

	users := r.OnlineUsers()
	assert.ElementsMatch(t, []string{"alice", "bob"}, users)
	assert.Equal(t, 3, r.TotalConnections())
}
