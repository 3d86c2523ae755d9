package chat

import (
	"context"
	"time"

	"chatgate/logger"
	"chatgate/tools/decode"
	"chatgate/tools/ids"
	"chatgate/tools/safe"
)

// Authenticator verifies the credential token presented on connect.
type Authenticator interface {
	Verify(token string) (userID, username, displayName string, err error)
}

// Membership is the authorization collaborator: it answers whether a user may
// join/send in a chatroom. The membership store itself lives outside the
// gateway.
type Membership interface {
	IsMember(ctx context.Context, userID, chatroomID string) (bool, error)
}

// MessageStore is the persistence collaborator. Saves are fire-and-forget
// relative to delivery: a slow store never throttles live fan-out.
type MessageStore interface {
	Save(ctx context.Context, rec *MessageRecord) error
}

// MessageArchive receives every finalized message record for downstream
// consumers (search indexing, summaries). Also fire-and-forget.
type MessageArchive interface {
	Publish(rec *MessageRecord)
}

const (
	authzTimeout   = 3 * time.Second
	persistTimeout = 5 * time.Second
)

// handleFrame is the ACTIVE-state self-loop: one inbound envelope in, zero or
// more outbound envelopes out. An error inside one event's handling is logged
// and the connection stays ACTIVE; only transport failures tear it down.
func (s *Server) handleFrame(c *Client, env *Envelope) {
	switch env.Event {
	case EventJoinChatroom:
		s.handleJoin(c, env)
	case EventLeaveChatroom:
		s.handleLeave(c, env)
	case EventSendMessage:
		s.handleSendMessage(c, env)
	case EventTypingStart:
		s.handleTyping(c, env, true)
	case EventTypingStop:
		s.handleTyping(c, env, false)
	case EventPing:
		s.handlePing(c)
	default:
		logger.Warnf("[ws] unknown event=%s user=%s conn=%s", env.Event, c.UserID, c.ConnID)
	}
}

func (s *Server) handleJoin(c *Client, env *Envelope) {
	p, err := decode.DecodeMap[JoinChatroomPayload](env.Data)
	if err != nil || p.ChatroomID == "" {
		logger.Warnf("[ws] malformed join_chatroom user=%s err=%v", c.UserID, err)
		return
	}

	if !s.authorized(c.UserID, p.ChatroomID) {
		logger.Warnf("[ws] join denied user=%s chatroom=%s", c.UserID, p.ChatroomID)
		return
	}

	s.subs.Join(c.UserID, p.ChatroomID)

	env = NewUserJoined(c.UserID, c.Username, c.DisplayName, p.ChatroomID)
	s.disp.ToChatroom(p.ChatroomID, env, c.UserID)
	s.publishBridge(p.ChatroomID, c.UserID, env)

	logger.Infof("[ws] user joined chatroom user=%s chatroom=%s", c.UserID, p.ChatroomID)
}

func (s *Server) handleLeave(c *Client, env *Envelope) {
	p, err := decode.DecodeMap[LeaveChatroomPayload](env.Data)
	if err != nil || p.ChatroomID == "" {
		logger.Warnf("[ws] malformed leave_chatroom user=%s err=%v", c.UserID, err)
		return
	}

	s.subs.Leave(c.UserID, p.ChatroomID)

	env = NewUserLeft(c.UserID, p.ChatroomID)
	s.disp.ToChatroom(p.ChatroomID, env, c.UserID)
	s.publishBridge(p.ChatroomID, c.UserID, env)

	logger.Infof("[ws] user left chatroom user=%s chatroom=%s", c.UserID, p.ChatroomID)
}

func (s *Server) handleSendMessage(c *Client, env *Envelope) {
	p, err := decode.DecodeMap[SendMessagePayload](env.Data)
	if err != nil || p.ChatroomID == "" || p.Content == "" {
		logger.Warnf("[ws] malformed send_message user=%s err=%v", c.UserID, err)
		return
	}

	// A sender must hold an active subscription, not just authorization:
	// sends to authorized-but-unjoined rooms are rejected.
	if !s.subs.IsJoined(c.UserID, p.ChatroomID) {
		logger.Warnf("[ws] send to unjoined chatroom user=%s chatroom=%s", c.UserID, p.ChatroomID)
		return
	}
	if !s.authorized(c.UserID, p.ChatroomID) {
		logger.Warnf("[ws] send denied user=%s chatroom=%s", c.UserID, p.ChatroomID)
		return
	}

	msgType := p.MessageType
	if msgType == "" {
		msgType = "text"
	}
	rec := &MessageRecord{
		ID:          "msg_" + ids.GenerateString(),
		ChatroomID:  p.ChatroomID,
		UserID:      c.UserID,
		Username:    c.Username,
		DisplayName: c.DisplayName,
		Content:     p.Content,
		MessageType: msgType,
		ClientID:    p.ClientID,
		Timestamp:   isoNow(),
		Reactions:   []string{},
	}

	// Persistence and archiving are off the delivery critical path.
	if s.store != nil {
		safe.SafeGo(func() {
			ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
			defer cancel()
			if err := s.store.Save(ctx, rec); err != nil {
				logger.Errorf("[ws] persist message id=%s err=%v", rec.ID, err)
			}
		})
	}
	if s.archive != nil {
		s.archive.Publish(rec)
	}

	out := NewMessageReceived(rec)
	s.disp.ToChatroom(p.ChatroomID, out, "") // self-inclusive fan-out
	s.publishBridge(p.ChatroomID, "", out)

	logger.Infof("[ws] message sent id=%s user=%s chatroom=%s", rec.ID, c.UserID, p.ChatroomID)
}

func (s *Server) handleTyping(c *Client, env *Envelope, isTyping bool) {
	p, err := decode.DecodeMap[TypingPayload](env.Data)
	if err != nil || p.ChatroomID == "" {
		logger.Warnf("[ws] malformed typing event user=%s err=%v", c.UserID, err)
		return
	}
	// Typing only needs an active subscription; no collaborator re-check.
	if !s.subs.IsJoined(c.UserID, p.ChatroomID) {
		return
	}
	s.disp.ToChatroom(p.ChatroomID, NewTypingIndicator(c.UserID, c.Username, p.ChatroomID, isTyping), c.UserID)
}

func (s *Server) handlePing(c *Client) {
	s.presence.Heartbeat(c.UserID)
	payload, err := NewPong().Encode()
	if err != nil {
		return
	}
	// Pong goes back on the pinging connection only, not all of the user's.
	if !c.enqueue(payload) {
		s.dropClient(c, "pong enqueue failed")
	}
}

// authorized consults the membership collaborator. Collaborator errors deny:
// an unreachable membership store must not open rooms up.
func (s *Server) authorized(userID, chatroomID string) bool {
	if s.membership == nil {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), authzTimeout)
	defer cancel()
	ok, err := s.membership.IsMember(ctx, userID, chatroomID)
	if err != nil {
		logger.Errorf("[ws] membership check user=%s chatroom=%s err=%v", userID, chatroomID, err)
		return false
	}
	return ok
}

func (s *Server) publishBridge(chatroomID, excludeUser string, env *Envelope) {
	if s.bridge == nil {
		return
	}
	frame := &BridgeFrame{
		Origin:      s.opts.GatewayID,
		ChatroomID:  chatroomID,
		ExcludeUser: excludeUser,
		Envelope:    env,
	}
	if err := s.bridge.Publish(frame); err != nil {
		logger.Errorf("[bridge] publish chatroom=%s event=%s err=%v", chatroomID, env.Event, err)
	}
}
