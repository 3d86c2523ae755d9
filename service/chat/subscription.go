package chat

import (
	"sync"
)

// SubscriptionIndex owns the chatroom -> subscribed users mapping, with a
// reverse user -> rooms index so a full disconnect can purge in O(rooms of
// user) instead of scanning every room. Both indexes are sharded by their
// key, so traffic in one room never contends with another room's joins or
// with an unrelated user's purge. Empty entries are deleted to bound memory.
type SubscriptionIndex struct {
	rooms [shardCount]roomShard  // keyed by chatroom id
	users [shardCount]roomsShard // keyed by user id
}

type roomShard struct {
	mu     sync.RWMutex
	byRoom map[string]map[string]struct{} // chatroom -> set<user>
}

type roomsShard struct {
	mu     sync.RWMutex
	byUser map[string]map[string]struct{} // user -> set<chatroom>
}

func NewSubscriptionIndex() *SubscriptionIndex {
	s := &SubscriptionIndex{}
	for i := range s.rooms {
		s.rooms[i].byRoom = make(map[string]map[string]struct{})
	}
	for i := range s.users {
		s.users[i].byUser = make(map[string]map[string]struct{})
	}
	return s
}

func (s *SubscriptionIndex) roomShard(chatroomID string) *roomShard {
	return &s.rooms[shardIndex(chatroomID)]
}

func (s *SubscriptionIndex) userShard(userID string) *roomsShard {
	return &s.users[shardIndex(userID)]
}

// Join subscribes the user to the room. Idempotent. The room side is written
// first so a membership query never reports a user whose room entry is still
// pending.
func (s *SubscriptionIndex) Join(userID, chatroomID string) {
	if userID == "" || chatroomID == "" {
		return
	}
	rs := s.roomShard(chatroomID)
	rs.mu.Lock()
	if rs.byRoom[chatroomID] == nil {
		rs.byRoom[chatroomID] = make(map[string]struct{})
	}
	rs.byRoom[chatroomID][userID] = struct{}{}
	rs.mu.Unlock()

	us := s.userShard(userID)
	us.mu.Lock()
	if us.byUser[userID] == nil {
		us.byUser[userID] = make(map[string]struct{})
	}
	us.byUser[userID][chatroomID] = struct{}{}
	us.mu.Unlock()
}

// Leave unsubscribes the user from the room. A no-op for non-members.
func (s *SubscriptionIndex) Leave(userID, chatroomID string) {
	s.removeMember(userID, chatroomID)

	us := s.userShard(userID)
	us.mu.Lock()
	if m := us.byUser[userID]; m != nil {
		delete(m, chatroomID)
		if len(m) == 0 {
			delete(us.byUser, userID)
		}
	}
	us.mu.Unlock()
}

func (s *SubscriptionIndex) removeMember(userID, chatroomID string) {
	rs := s.roomShard(chatroomID)
	rs.mu.Lock()
	if m := rs.byRoom[chatroomID]; m != nil {
		delete(m, userID)
		if len(m) == 0 {
			delete(rs.byRoom, chatroomID)
		}
	}
	rs.mu.Unlock()
}

// Members snapshots the user set of a room.
func (s *SubscriptionIndex) Members(chatroomID string) []string {
	rs := s.roomShard(chatroomID)
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	m := rs.byRoom[chatroomID]
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for u := range m {
		out = append(out, u)
	}
	return out
}

// Rooms snapshots the rooms the user is currently joined to.
func (s *SubscriptionIndex) Rooms(userID string) []string {
	us := s.userShard(userID)
	us.mu.RLock()
	defer us.mu.RUnlock()
	m := us.byUser[userID]
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for r := range m {
		out = append(out, r)
	}
	return out
}

func (s *SubscriptionIndex) IsJoined(userID, chatroomID string) bool {
	rs := s.roomShard(chatroomID)
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	m := rs.byRoom[chatroomID]
	if m == nil {
		return false
	}
	_, ok := m[userID]
	return ok
}

// PurgeUser removes the user from every room. Called by the registry's
// cascading cleanup when the user's last connection goes away. The reverse
// index delete is the linearization point: concurrent purges race for it and
// exactly one wins the room list. Returns the rooms the user was purged from.
func (s *SubscriptionIndex) PurgeUser(userID string) []string {
	us := s.userShard(userID)
	us.mu.Lock()
	m := us.byUser[userID]
	if len(m) == 0 {
		us.mu.Unlock()
		return nil
	}
	rooms := make([]string, 0, len(m))
	for r := range m {
		rooms = append(rooms, r)
	}
	delete(us.byUser, userID)
	us.mu.Unlock()

	for _, r := range rooms {
		s.removeMember(userID, r)
	}
	return rooms
}

func (s *SubscriptionIndex) RoomCount() int {
	n := 0
	for i := range s.rooms {
		rs := &s.rooms[i]
		rs.mu.RLock()
		n += len(rs.byRoom)
		rs.mu.RUnlock()
	}
	return n
}

func (s *SubscriptionIndex) TotalSubscriptions() int {
	n := 0
	for i := range s.rooms {
		rs := &s.rooms[i]
		rs.mu.RLock()
		for _, m := range rs.byRoom {
			n += len(m)
		}
		rs.mu.RUnlock()
	}
	return n
}
