package epp

import (
	"github.com/google/uuid"
)

// SessionState tracks where a connection sits in the EPP command state
// machine of RFC 5730 section 2.  Transitions happen only on a successful
// <login> and on session teardown.
type SessionState int

const (
	// StateUnauthenticated is the state between the greeting and a
	// successful <login>.  Only <hello> and <login> make progress here.
	StateUnauthenticated SessionState = iota

	// StateAuthenticated is entered once <login> succeeds and lasts until
	// <logout> or connection loss.
	StateAuthenticated
)

// Session holds the per-connection protocol state.  One is created when a
// connection is accepted and discarded when the connection loop exits; the
// dispatcher is the only writer after that.
type Session struct {
	id    uuid.UUID
	state SessionState

	clid string
	lang string

	objects    ServiceSet
	extensions ServiceSet
}

func newSession() *Session {
	return &Session{
		id:         uuid.New(),
		objects:    NewServiceSet(),
		extensions: NewServiceSet(),
	}
}

// ID returns the identifier minted for this session at accept time.
func (s *Session) ID() uuid.UUID { return s.id }

// State returns the session's position in the command state machine.
func (s *Session) State() SessionState { return s.state }

// Authenticated reports whether a <login> has succeeded on this session.
func (s *Session) Authenticated() bool { return s.state == StateAuthenticated }

// Clid returns the authenticated client identifier, or "" before login.
func (s *Session) Clid() string { return s.clid }

// Lang returns the language negotiated at login, or "" before login.
func (s *Session) Lang() string { return s.lang }

// Objects returns the object service URIs the client requested at login.
func (s *Session) Objects() ServiceSet { return s.objects }

// Extensions returns the extension URIs the client requested at login.
func (s *Session) Extensions() ServiceSet { return s.extensions }

// login commits a successful authentication to the session.
func (s *Session) login(clid, lang string, objects, extensions []string) {
	s.state = StateAuthenticated
	s.clid = clid
	s.lang = lang
	s.objects = NewServiceSet(objects...)
	s.extensions = NewServiceSet(extensions...)
}
