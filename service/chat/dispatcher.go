package chat

import (
	"chatgate/logger"
)

// Dispatcher resolves a delivery target (user, chatroom, or everyone) into
// connections and performs the send. Enqueueing runs synchronously in the
// origin's goroutine so a single origin's events reach each recipient in the
// order they were issued; the actual network writes happen concurrently on
// the per-connection writer goroutines, so no recipient can stall another.
// Delivery failures are logged, never raised.
type Dispatcher struct {
	registry *Registry
	subs     *SubscriptionIndex
}

func NewDispatcher(registry *Registry, subs *SubscriptionIndex) *Dispatcher {
	return &Dispatcher{registry: registry, subs: subs}
}

// ToUser delivers to every live connection of one user and returns how many
// connections accepted the payload.
func (d *Dispatcher) ToUser(userID string, env *Envelope) int {
	payload, err := env.Encode()
	if err != nil {
		logger.Errorf("[dispatch] encode %s failed: %v", env.Event, err)
		return 0
	}
	return d.registry.Deliver(userID, payload)
}

// ToChatroom delivers to every subscribed member of the room, optionally
// excluding one user (typically the origin). Fire-and-forget.
func (d *Dispatcher) ToChatroom(chatroomID string, env *Envelope, excludeUser string) {
	payload, err := env.Encode()
	if err != nil {
		logger.Errorf("[dispatch] encode %s failed: %v", env.Event, err)
		return
	}
	for _, user := range d.subs.Members(chatroomID) {
		if excludeUser != "" && user == excludeUser {
			continue
		}
		d.registry.Deliver(user, payload)
	}
}

// ToAll delivers to every online user, optionally excluding one.
func (d *Dispatcher) ToAll(env *Envelope, excludeUser string) {
	payload, err := env.Encode()
	if err != nil {
		logger.Errorf("[dispatch] encode %s failed: %v", env.Event, err)
		return
	}
	for _, user := range d.registry.OnlineUsers() {
		if excludeUser != "" && user == excludeUser {
			continue
		}
		d.registry.Deliver(user, payload)
	}
}
