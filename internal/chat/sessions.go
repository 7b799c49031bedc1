package chat

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentpiazza/piazza/internal/model"
)

// sessionKey identifies one conversation. Sessions with different keys share
// no state.
type sessionKey struct {
	agentID   uuid.UUID
	sessionID string
}

// session holds the mutable state of one conversation. All access goes
// through mu, so a confirm and a concurrent send on the same session can
// never interleave mid-commit.
type session struct {
	mu       sync.Mutex
	messages []model.ChatMessage
	pending  *model.PendingPost
}

func (s *session) append(role model.ChatRole, content string) model.ChatMessage {
	msg := model.ChatMessage{
		ID:        uuid.New(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	s.messages = append(s.messages, msg)
	return msg
}

// snapshot returns a copy of the message log safe to use after the session
// mutex is released.
func (s *session) snapshot() []model.ChatMessage {
	out := make([]model.ChatMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

// sessionStore is the in-memory session arena. The outer lock only guards
// the map; per-session work happens under each session's own mutex.
type sessionStore struct {
	mu       sync.RWMutex
	sessions map[sessionKey]*session
}

func newSessionStore() *sessionStore {
	return &sessionStore{sessions: make(map[sessionKey]*session)}
}

// getOrCreate returns the session for (agentID, sessionID), minting a fresh
// session ID when the caller did not supply one.
func (st *sessionStore) getOrCreate(agentID uuid.UUID, sessionID string) (*session, string) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	key := sessionKey{agentID: agentID, sessionID: sessionID}

	st.mu.RLock()
	sess, ok := st.sessions[key]
	st.mu.RUnlock()
	if ok {
		return sess, sessionID
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if sess, ok = st.sessions[key]; !ok {
		sess = &session{}
		st.sessions[key] = sess
	}
	return sess, sessionID
}

func (st *sessionStore) get(agentID uuid.UUID, sessionID string) (*session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	sess, ok := st.sessions[sessionKey{agentID: agentID, sessionID: sessionID}]
	return sess, ok
}

func (st *sessionStore) remove(agentID uuid.UUID, sessionID string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, sessionKey{agentID: agentID, sessionID: sessionID})
}
