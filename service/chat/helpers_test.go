package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chatgate/tools/ids"
)

// testWait bounds polls on paths that hop through a fire-and-forget goroutine.
const testWait = 2 * time.Second

// fakeConn is an in-memory transport half for tests.
type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (f *fakeConn) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("conn closed")
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	f.frames = append(f.frames, cp)
	return nil
}

func (f *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// allowAuth authenticates any non-empty token as that user id.
type allowAuth struct{}

func (allowAuth) Verify(token string) (string, string, string, error) {
	if token == "" {
		return "", "", "", errors.New("missing token")
	}
	return token, token, token, nil
}

// allowMembership authorizes everything; denyMembership nothing.
type allowMembership struct{}

func (allowMembership) IsMember(context.Context, string, string) (bool, error) { return true, nil }

type denyMembership struct{}

func (denyMembership) IsMember(context.Context, string, string) (bool, error) { return false, nil }

// captureStore records persisted message records.
type captureStore struct {
	mu   sync.Mutex
	recs []*MessageRecord
}

func (s *captureStore) Save(_ context.Context, rec *MessageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
	return nil
}

func (s *captureStore) saved() []*MessageRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*MessageRecord(nil), s.recs...)
}

// captureBridge records published frames and lets tests inject inbound ones.
type captureBridge struct {
	mu      sync.Mutex
	frames  []*BridgeFrame
	handler func(*BridgeFrame)
}

func (b *captureBridge) Publish(f *BridgeFrame) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frames = append(b.frames, f)
	return nil
}

func (b *captureBridge) Subscribe(h func(*BridgeFrame)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = h
	return nil
}

func (b *captureBridge) Close() error { return nil }

func (b *captureBridge) published() []*BridgeFrame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*BridgeFrame(nil), b.frames...)
}

func (b *captureBridge) inject(f *BridgeFrame) {
	b.mu.Lock()
	h := b.handler
	b.mu.Unlock()
	if h != nil {
		h(f)
	}
}

func newTestServer(t *testing.T, deps Deps) *Server {
	t.Helper()
	if deps.Auth == nil {
		deps.Auth = allowAuth{}
	}
	s, err := NewServer(Options{
		GatewayID:     "gw-test",
		SendQueueSize: 32,
		WriteTimeout:  time.Second,
		IdleTimeout:   time.Hour,
		SweepEvery:    time.Hour,
	}, deps)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

// addClient registers a fresh connection for user without a writer goroutine;
// tests inspect the Send queue directly.
func addClient(t *testing.T, s *Server, user string) *Client {
	t.Helper()
	c := NewClient(ids.GenerateString(), user, user, user, &fakeConn{}, 32)
	s.register(c)
	return c
}

// drainEvents empties the client's send queue into decoded envelopes.
func drainEvents(t *testing.T, c *Client) []*Envelope {
	t.Helper()
	var out []*Envelope
	for {
		select {
		case payload := <-c.Send:
			env, err := ParseEnvelope(payload)
			require.NoError(t, err)
			out = append(out, env)
		default:
			return out
		}
	}
}

func countEvents(envs []*Envelope, event string) int {
	n := 0
	for _, e := range envs {
		if e.Event == event {
			n++
		}
	}
	return n
}

// waitUntil polls cond until it holds or the deadline passes. Used where a
// code path hops through a fire-and-forget goroutine.
func waitUntil(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, cond(), "condition not met within %s", d)
}
