// Package session tracks the authenticated identity and its lifecycle.
// Everything else in the client hangs off the change event: on
// sign-out all derived state is invalid and must be torn down before
// any re-subscribe, or callbacks from the previous identity bleed into
// the next one.
package session

import (
	"context"
	"sync"

	"rownak/pkg/auth"
	"rownak/pkg/logger"
	"rownak/pkg/models"
)

// ChangeFn observes identity transitions. A nil identity means signed
// out. Listeners run synchronously in registration order, so a
// listener's teardown completes before the next listener sees the new
// identity.
type ChangeFn func(*models.Identity)

// Manager owns the current identity.
type Manager struct {
	authc    *auth.Client
	sessFile string

	mu      sync.Mutex
	sess    *auth.Session
	nextSub int
	subs    map[int]ChangeFn
}

// NewManager builds a manager persisting sessions at sessFile.
func NewManager(authc *auth.Client, sessFile string) *Manager {
	return &Manager{authc: authc, sessFile: sessFile, subs: map[int]ChangeFn{}}
}

// Current returns the signed-in identity, nil when signed out.
func (m *Manager) Current() *models.Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil {
		return nil
	}
	id := m.sess.Identity
	return &id
}

// Session returns the provider session for calls that need tokens.
func (m *Manager) Session() *auth.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess
}

// OnChange registers fn and returns its unregister func. fn fires
// immediately with the current identity, mirroring a session-restore
// event for late registrants.
func (m *Manager) OnChange(fn ChangeFn) func() {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	var cur *models.Identity
	if m.sess != nil {
		c := m.sess.Identity
		cur = &c
	}
	m.mu.Unlock()
	fn(cur)
	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

func (m *Manager) set(s *auth.Session) {
	m.mu.Lock()
	m.sess = s
	fns := make([]ChangeFn, 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	var id *models.Identity
	if s != nil {
		c := s.Identity
		id = &c
	}
	for _, fn := range fns {
		fn(id)
	}
}

// Restore loads a persisted session, if one exists, and fires the
// change event. Call once at startup before the UI renders.
func (m *Manager) Restore() {
	s, err := auth.LoadSession(m.sessFile)
	if err != nil {
		logger.Warn("session_restore_failed", "error", err)
		return
	}
	if s == nil {
		return
	}
	logger.Info("session_restored", "uid", s.Identity.UID)
	m.set(s)
}

// SignIn authenticates and persists the session so it survives
// process restarts.
func (m *Manager) SignIn(ctx context.Context, email, password string) error {
	s, err := m.authc.SignIn(ctx, email, password)
	if err != nil {
		return err
	}
	if err := auth.SaveSession(m.sessFile, s); err != nil {
		logger.Warn("session_persist_failed", "error", err)
	}
	m.set(s)
	return nil
}

// SignUp creates an account and signs it in.
func (m *Manager) SignUp(ctx context.Context, email, password string) error {
	s, err := m.authc.SignUp(ctx, email, password)
	if err != nil {
		return err
	}
	if err := auth.SaveSession(m.sessFile, s); err != nil {
		logger.Warn("session_persist_failed", "error", err)
	}
	m.set(s)
	return nil
}

// SignOut clears the session. Listeners receive nil and must release
// every live subscription before returning.
func (m *Manager) SignOut() {
	if err := auth.ClearSession(m.sessFile); err != nil {
		logger.Warn("session_clear_failed", "error", err)
	}
	m.set(nil)
}

// Apply replaces the current identity after a profile update and
// re-persists the session.
func (m *Manager) Apply(id *models.Identity) {
	m.mu.Lock()
	if m.sess == nil || id == nil {
		m.mu.Unlock()
		return
	}
	m.sess.Identity = *id
	s := *m.sess
	m.mu.Unlock()
	if err := auth.SaveSession(m.sessFile, &s); err != nil {
		logger.Warn("session_persist_failed", "error", err)
	}
	m.set(&s)
}
