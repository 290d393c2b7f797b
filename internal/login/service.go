// Package login holds the account and session store consulted during circuit
// establishment. Accounts live in memory; a successful Authenticate mints a
// session grant whose identifiers the viewer echoes back in UseCircuitCode.
package login

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"verdantia/simulator/internal/core"
)

var (
	// ErrUnknownUser reports credentials naming no registered account.
	ErrUnknownUser = errors.New("login: unknown user")
	// ErrBadCredentials reports a password mismatch.
	ErrBadCredentials = errors.New("login: bad credentials")
	// ErrSessionNotFound reports a session id with no active grant.
	ErrSessionNotFound = errors.New("login: session not found")
)

// DefaultSessionTTL expires grants that never complete circuit establishment.
const DefaultSessionTTL = 10 * time.Minute

// Credentials identify an account by legacy first/last name plus password.
type Credentials struct {
	First    string
	Last     string
	Password string
}

// Grant is the session issued to an authenticated viewer.
type Grant struct {
	SessionID       core.SessionID
	SecureSessionID core.SessionID
	AgentID         core.UserID
	CircuitCode     uint32
	IssuedAt        time.Time
}

type account struct {
	first        string
	last         string
	passwordHash [sha256.Size]byte
	agentID      core.UserID
	createdAt    time.Time
}

type session struct {
	grant        Grant
	lastActivity time.Time
}

// Service is the in-memory login and session registry.
type Service struct {
	mu       sync.RWMutex
	accounts map[string]*account
	sessions map[core.SessionID]*session
	ttl      time.Duration
	now      func() time.Time
	codes    func() uint32
}

// Option customises Service construction.
type Option func(*Service)

// WithClock overrides the wall clock, enabling deterministic tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithSessionTTL overrides how long unused grants stay valid.
func WithSessionTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// NewService constructs an empty login registry.
func NewService(opts ...Option) *Service {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	s := &Service{
		accounts: make(map[string]*account),
		sessions: make(map[core.SessionID]*session),
		ttl:      DefaultSessionTTL,
		now:      time.Now,
		codes:    rng.Uint32,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// RegisterUser adds an account. Existing accounts with the same name are
// replaced, keeping their agent id stable across re-registration.
func (s *Service) RegisterUser(first, last, password string) core.UserID {
	key := accountKey(first, last)
	s.mu.Lock()
	defer s.mu.Unlock()

	agentID := core.NewUserID()
	if existing, ok := s.accounts[key]; ok {
		agentID = existing.agentID
	}
	s.accounts[key] = &account{
		first:        strings.TrimSpace(first),
		last:         strings.TrimSpace(last),
		passwordHash: sha256.Sum256([]byte(password)),
		agentID:      agentID,
		createdAt:    s.now(),
	}
	return agentID
}

// Authenticate verifies credentials and mints a session grant.
func (s *Service) Authenticate(creds Credentials) (Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[accountKey(creds.First, creds.Last)]
	if !ok {
		return Grant{}, ErrUnknownUser
	}
	//1.- Compare password digests in constant time.
	supplied := sha256.Sum256([]byte(creds.Password))
	if !hmac.Equal(supplied[:], acct.passwordHash[:]) {
		return Grant{}, ErrBadCredentials
	}

	//2.- Mint the grant the viewer will echo during circuit establishment.
	grant := Grant{
		SessionID:       core.NewSessionID(),
		SecureSessionID: core.NewSessionID(),
		AgentID:         acct.agentID,
		CircuitCode:     s.codes(),
		IssuedAt:        s.now(),
	}
	s.sessions[grant.SessionID] = &session{grant: grant, lastActivity: grant.IssuedAt}
	return grant, nil
}

// ValidateSession checks that a session id is active and bound to the agent.
// Validation refreshes the session's activity timestamp.
func (s *Service) ValidateSession(sessionID core.SessionID, agentID core.UserID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return false
	}
	if s.now().Sub(sess.lastActivity) > s.ttl {
		delete(s.sessions, sessionID)
		return false
	}
	if sess.grant.AgentID != agentID {
		return false
	}
	sess.lastActivity = s.now()
	return true
}

// ValidateCircuit checks that the session grant matches both the agent and the
// circuit code echoed during establishment. Like ValidateSession it refreshes
// the session's activity timestamp on success.
func (s *Service) ValidateCircuit(sessionID core.SessionID, agentID core.UserID, circuitCode uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return false
	}
	if s.now().Sub(sess.lastActivity) > s.ttl {
		delete(s.sessions, sessionID)
		return false
	}
	if sess.grant.AgentID != agentID || sess.grant.CircuitCode != circuitCode {
		return false
	}
	sess.lastActivity = s.now()
	return true
}

// EndSession retires a grant, typically on logout.
func (s *Service) EndSession(sessionID core.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, sessionID)
	return nil
}

// SweepExpired drops grants idle past the TTL and reports how many went.
func (s *Service) SweepExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-s.ttl)
	removed := 0
	for id, sess := range s.sessions {
		if sess.lastActivity.Before(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// ActiveSessions reports the number of live grants.
func (s *Service) ActiveSessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func accountKey(first, last string) string {
	return fmt.Sprintf("%s %s", strings.ToLower(strings.TrimSpace(first)), strings.ToLower(strings.TrimSpace(last)))
}
