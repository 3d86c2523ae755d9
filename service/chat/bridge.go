package chat

// BridgeFrame is the unit published on the cross-process broadcast channel.
// Origin carries the publishing gateway's id so subscribers can drop their
// own echoes: local recipients were already served by the local dispatcher.
type BridgeFrame struct {
	Origin      string    `json:"origin"`
	ChatroomID  string    `json:"chatroom_id"`
	ExcludeUser string    `json:"exclude_user,omitempty"`
	Envelope    *Envelope `json:"envelope"`
}

// Bridge is the fan-out transport between gateway processes: an at-most-once
// broadcast primitive keyed by chatroom topic. No delivery acknowledgment, no
// cross-process ordering.
type Bridge interface {
	Publish(frame *BridgeFrame) error
	Subscribe(handler func(*BridgeFrame)) error
	Close() error
}
