package chat

import (
	"encoding/json"
	"fmt"
	"time"
)

// Inbound event kinds.
const (
	EventJoinChatroom  = "join_chatroom"
	EventLeaveChatroom = "leave_chatroom"
	EventSendMessage   = "send_message"
	EventTypingStart   = "typing_start"
	EventTypingStop    = "typing_stop"
	EventPing          = "ping"
)

// Outbound event kinds.
const (
	EventConnected       = "connected"
	EventUserJoined      = "user_joined"
	EventUserLeft        = "user_left"
	EventMessageReceived = "message_received"
	EventTypingIndicator = "typing_indicator"
	EventUserOnline      = "user_online"
	EventUserOffline     = "user_offline"
	EventPong            = "pong"
)

// Envelope is the wire unit: {"event": <string>, "data": <object>}.
// Envelopes are immutable once constructed.
type Envelope struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
}

// ParseEnvelope decodes an inbound frame.
func ParseEnvelope(raw []byte) (*Envelope, error) {
	env := &Envelope{}
	if err := json.Unmarshal(raw, env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope failed: %w", err)
	}
	if env.Event == "" {
		return nil, fmt.Errorf("envelope missing event")
	}
	return env, nil
}

// Encode serializes the envelope for the wire.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

func isoNow() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// ---- inbound payloads (decoded from Envelope.Data) ----

type JoinChatroomPayload struct {
	ChatroomID string `json:"chatroom_id"`
}

type LeaveChatroomPayload struct {
	ChatroomID string `json:"chatroom_id"`
}

type SendMessagePayload struct {
	ChatroomID  string `json:"chatroom_id"`
	Content     string `json:"content"`
	MessageType string `json:"message_type"`
	ClientID    string `json:"client_id"`
}

type TypingPayload struct {
	ChatroomID string `json:"chatroom_id"`
}

// MessageRecord is the finalized message handed to the persistence
// collaborator and fanned out inside a message_received envelope.
type MessageRecord struct {
	ID          string   `json:"id"`
	ChatroomID  string   `json:"chatroom_id"`
	UserID      string   `json:"user_id"`
	Username    string   `json:"username"`
	DisplayName string   `json:"display_name"`
	Content     string   `json:"content"`
	MessageType string   `json:"message_type"`
	ClientID    string   `json:"client_id,omitempty"`
	Timestamp   string   `json:"timestamp"`
	Edited      bool     `json:"edited"`
	Reactions   []string `json:"reactions"`
}

// ---- outbound envelope constructors ----

func NewConnected(userID, username string) *Envelope {
	return &Envelope{
		Event: EventConnected,
		Data: map[string]any{
			"user_id":   userID,
			"username":  username,
			"timestamp": isoNow(),
		},
	}
}

func NewUserJoined(userID, username, displayName, chatroomID string) *Envelope {
	return &Envelope{
		Event: EventUserJoined,
		Data: map[string]any{
			"user": map[string]any{
				"id":           userID,
				"username":     username,
				"display_name": displayName,
			},
			"chatroom_id": chatroomID,
			"timestamp":   isoNow(),
		},
	}
}

func NewUserLeft(userID, chatroomID string) *Envelope {
	return &Envelope{
		Event: EventUserLeft,
		Data: map[string]any{
			"user_id":     userID,
			"chatroom_id": chatroomID,
			"timestamp":   isoNow(),
		},
	}
}

func NewMessageReceived(rec *MessageRecord) *Envelope {
	reactions := rec.Reactions
	if reactions == nil {
		reactions = []string{}
	}
	return &Envelope{
		Event: EventMessageReceived,
		Data: map[string]any{
			"message": map[string]any{
				"id":           rec.ID,
				"chatroom_id":  rec.ChatroomID,
				"user_id":      rec.UserID,
				"username":     rec.Username,
				"display_name": rec.DisplayName,
				"content":      rec.Content,
				"message_type": rec.MessageType,
				"client_id":    rec.ClientID,
				"timestamp":    rec.Timestamp,
				"edited":       rec.Edited,
				"reactions":    reactions,
			},
		},
	}
}

func NewTypingIndicator(userID, username, chatroomID string, isTyping bool) *Envelope {
	return &Envelope{
		Event: EventTypingIndicator,
		Data: map[string]any{
			"user_id":     userID,
			"username":    username,
			"chatroom_id": chatroomID,
			"is_typing":   isTyping,
			"timestamp":   isoNow(),
		},
	}
}

func NewUserStatus(userID, username string, online bool) *Envelope {
	event := EventUserOnline
	status := "online"
	if !online {
		event = EventUserOffline
		status = "offline"
	}
	return &Envelope{
		Event: event,
		Data: map[string]any{
			"user_id":   userID,
			"username":  username,
			"status":    status,
			"timestamp": isoNow(),
		},
	}
}

func NewPong() *Envelope {
	return &Envelope{
		Event: EventPong,
		Data:  map[string]any{"timestamp": isoNow()},
	}
}
