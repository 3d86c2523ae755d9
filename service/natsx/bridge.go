package natsx

import (
	"encoding/json"
	"sync"

	"github.com/nats-io/nats.go"

	"chatgate/logger"
	"chatgate/service/chat"
)

// subjectPrefix namespaces the per-chatroom broadcast topics:
// chat.room.<chatroom_id>.
const subjectPrefix = "chat.room."

// Bridge implements chat.Bridge on NATS core pub/sub: at-most-once broadcast,
// no ordering across processes, no retry. Stronger guarantees would need an
// explicit sequence/ack layer on top.
type Bridge struct {
	nc     *nats.Conn
	origin string // this gateway's id, backfilled on frames published without one

	mu  sync.Mutex
	sub *nats.Subscription
}

func NewBridge(cfg Config, gatewayID string) (*Bridge, error) {
	nc, err := Connect(cfg)
	if err != nil {
		return nil, err
	}
	return &Bridge{nc: nc, origin: gatewayID}, nil
}

// Publish pushes a frame onto the chatroom's topic.
func (b *Bridge) Publish(frame *chat.BridgeFrame) error {
	if frame.Origin == "" {
		frame.Origin = b.origin
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return b.nc.Publish(subjectPrefix+frame.ChatroomID, data)
}

// Subscribe starts the background loop receiving frames for every chatroom
// topic. Malformed frames are logged and dropped; origin filtering is the
// handler's job (the server drops frames whose origin equals its own id).
func (b *Bridge) Subscribe(handler func(*chat.BridgeFrame)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sub != nil {
		return nil
	}
	sub, err := b.nc.Subscribe(subjectPrefix+">", func(m *nats.Msg) {
		frame := &chat.BridgeFrame{}
		if err := json.Unmarshal(m.Data, frame); err != nil {
			logger.Warnf("[bridge] drop malformed frame subject=%s err=%v", m.Subject, err)
			return
		}
		handler(frame)
	})
	if err != nil {
		return err
	}
	b.sub = sub
	return nil
}

// Close drains the subscription and the connection.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sub != nil {
		_ = b.sub.Drain()
		b.sub = nil
	}
	if b.nc != nil {
		return b.nc.Drain()
	}
	return nil
}
