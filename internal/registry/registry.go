// Package registry is the Session Store: it owns the set of
// live sessions, each session's source language, its host connection,
// and its per-language listener connections, and implements the
// broadcast fan-out the Result Dispatcher drives.
package registry

import (
	"sync"

	"github.com/rs/zerolog/log"

	"ai-speech-translate-core/internal/models"
)

// Conn is the minimal connection surface the registry needs to deliver a
// message. *websocket.Conn satisfies this directly; tests use a fake.
type Conn interface {
	WriteJSON(v any) error
}

// Session holds per-connection state: the host socket, the registered
// listener sockets keyed by an opaque connection id, and the mutable
// source language a host may change mid-session via a later init frame.
type Session struct {
	mu sync.RWMutex

	id         string
	sourceLang string
	tier       string

	host      Conn
	listeners map[string]*listener

	onClose []func()
}

type listener struct {
	conn       Conn
	targetLang string
}

// Store is the Session Store: a concurrency-safe map of session id to
// Session, guarded by its own lock for structural changes (create/
// delete) while each Session guards its own fields independently so a
// listener join on session A never blocks a broadcast on session B.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// New creates an empty Session Store.
func New() *Store {
	return &Store{sessions: make(map[string]*Session)}
}

// CreateSession registers a new session, replacing any existing entry
// with the same id (a reconnecting host gets a fresh session).
func (s *Store) CreateSession(id, sourceLang, tier string) *Session {
	sess := &Session{
		id:         id,
		sourceLang: sourceLang,
		tier:       tier,
		listeners:  make(map[string]*listener),
	}
	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()
	return sess
}

// GetSession looks up a session by id.
func (s *Store) GetSession(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// RemoveSession tears down and forgets a session.
func (s *Store) RemoveSession(id string) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if ok {
		sess.runCloseHooks()
	}
}

// UpdateSourceLanguage changes a session's declared source language, for
// a host that sends a later init frame mid-connection.
func (s *Store) UpdateSourceLanguage(id, lang string) {
	sess, ok := s.GetSession(id)
	if !ok {
		return
	}
	sess.mu.Lock()
	sess.sourceLang = lang
	sess.mu.Unlock()
}

// GetSessionLanguages returns the distinct target languages currently
// registered by listeners on a session.
func (s *Store) GetSessionLanguages(id string) []string {
	sess, ok := s.GetSession(id)
	if !ok {
		return nil
	}
	return sess.TargetLanguages()
}

// SetHost attaches (or replaces) the host connection for a session.
func (s *Store) SetHost(id string, conn Conn) {
	sess, ok := s.GetSession(id)
	if !ok {
		return
	}
	sess.mu.Lock()
	sess.host = conn
	sess.mu.Unlock()
}

// AddListener registers a listener connection under listenerID, filtered
// to targetLang.
func (s *Store) AddListener(id, listenerID, targetLang string, conn Conn) {
	sess, ok := s.GetSession(id)
	if !ok {
		return
	}
	sess.mu.Lock()
	sess.listeners[listenerID] = &listener{conn: conn, targetLang: targetLang}
	sess.mu.Unlock()
}

// RemoveListener drops one listener connection. A listener's own
// disconnect never affects any other listener or the host.
func (s *Store) RemoveListener(id, listenerID string) {
	sess, ok := s.GetSession(id)
	if !ok {
		return
	}
	sess.mu.Lock()
	delete(sess.listeners, listenerID)
	sess.mu.Unlock()
}

// SourceLang returns the session's current source language.
func (sess *Session) SourceLang() string {
	sess.mu.RLock()
	defer sess.mu.RUnlock()
	return sess.sourceLang
}

// Tier returns the session's processing tier.
func (sess *Session) Tier() string {
	sess.mu.RLock()
	defer sess.mu.RUnlock()
	return sess.tier
}

// TargetLanguages returns the distinct languages currently registered by
// listeners on this session.
func (sess *Session) TargetLanguages() []string {
	sess.mu.RLock()
	defer sess.mu.RUnlock()
	seen := make(map[string]struct{}, len(sess.listeners))
	out := make([]string, 0, len(sess.listeners))
	for _, l := range sess.listeners {
		if _, dup := seen[l.targetLang]; dup {
			continue
		}
		seen[l.targetLang] = struct{}{}
		out = append(out, l.targetLang)
	}
	return out
}

// OnClose registers a hook invoked when the session is removed from the
// store (client disconnect, session teardown).
func (sess *Session) OnClose(fn func()) {
	sess.mu.Lock()
	sess.onClose = append(sess.onClose, fn)
	sess.mu.Unlock()
}

func (sess *Session) runCloseHooks() {
	sess.mu.RLock()
	hooks := append([]func(){}, sess.onClose...)
	sess.mu.RUnlock()
	for _, fn := range hooks {
		fn()
	}
}

// SendToHost implements pipeline.Broadcaster: delivers msg to the host
// connection only, if one is attached.
func (s *Store) SendToHost(sessionID string, msg models.Translation) {
	sess, ok := s.GetSession(sessionID)
	if !ok {
		return
	}
	sess.mu.RLock()
	host := sess.host
	sess.mu.RUnlock()
	if host == nil {
		return
	}
	if err := host.WriteJSON(msg); err != nil {
		log.Warn().Err(err).Str("sessionId", sessionID).Msg("write to host failed")
	}
}

// BroadcastToListeners implements pipeline.Broadcaster: delivers msg to
// every listener registered for msg.TargetLang. A write failure or a
// disconnected listener is logged and skipped; it never prevents
// delivery to other listeners.
func (s *Store) BroadcastToListeners(sessionID string, msg models.Translation) {
	sess, ok := s.GetSession(sessionID)
	if !ok {
		return
	}
	sess.mu.RLock()
	targets := make([]Conn, 0, len(sess.listeners))
	for _, l := range sess.listeners {
		if l.targetLang == msg.TargetLang {
			targets = append(targets, l.conn)
		}
	}
	sess.mu.RUnlock()

	for _, conn := range targets {
		if err := conn.WriteJSON(msg); err != nil {
			log.Warn().Err(err).Str("sessionId", sessionID).Str("targetLang", msg.TargetLang).
				Msg("write to listener failed")
		}
	}
}

// TargetLanguages implements pipeline.Broadcaster.
func (s *Store) TargetLanguages(sessionID string) []string {
	return s.GetSessionLanguages(sessionID)
}
