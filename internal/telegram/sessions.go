package telegram

import "sync"

// Session links a Telegram chat to a party membership.
type Session struct {
	Code     string
	MemberID string
	Nickname string
}

// Sessions is the in-memory chat to party map. Sessions are lost on restart;
// members simply /join again.
type Sessions struct {
	mu    sync.RWMutex
	chats map[int64]Session
}

// NewSessions creates an empty session map.
func NewSessions() *Sessions {
	return &Sessions{chats: make(map[int64]Session)}
}

// Get returns the session of a chat.
func (s *Sessions) Get(chatID int64) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.chats[chatID]
	return sess, ok
}

// Set replaces the session of a chat.
func (s *Sessions) Set(chatID int64, sess Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats[chatID] = sess
}

// Delete forgets a chat.
func (s *Sessions) Delete(chatID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chats, chatID)
}
