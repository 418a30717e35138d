package epp

import (
	"context"
)

// Command names recognized by the dispatcher.  CmdOther is synthesized for
// frames whose top-level child is <extension> rather than <command>.
const (
	CmdLogin    = "login"
	CmdLogout   = "logout"
	CmdPoll     = "poll"
	CmdCheck    = "check"
	CmdInfo     = "info"
	CmdCreate   = "create"
	CmdUpdate   = "update"
	CmdRenew    = "renew"
	CmdDelete   = "delete"
	CmdTransfer = "transfer"
	CmdOther    = "other"
)

// objectCommands carry an object payload whose namespace must be among the
// session's negotiated object services.
var objectCommands = map[string]bool{
	CmdCheck:    true,
	CmdInfo:     true,
	CmdCreate:   true,
	CmdDelete:   true,
	CmdRenew:    true,
	CmdTransfer: true,
	CmdUpdate:   true,
}

// Request is the dispatcher's hand-off to a command handler.
type Request struct {
	// Frame is the full parsed <epp> document received from the client.
	Frame *Element

	// Session is the connection's session.  Handlers must treat it as
	// read-only; the dispatcher owns all mutation.
	Session *Session

	// ClTRID is the client transaction ID from the frame, possibly empty.
	ClTRID string

	// SvTRID is the server transaction ID minted for this exchange.  It is
	// echoed in the <trID> of the response.
	SvTRID string
}

// Result is what a command handler produces.  Exactly one of the shapes
// below is meaningful:
//
//   - Doc set: a prebuilt <epp> document, sent verbatim.
//   - Code set, Children empty: a bare result, message defaulted from the
//     code unless Msg is set.
//   - Code and Children set: the children must be <resData>, <msgQ> or
//     <extension> elements; they are deep-copied into the response in
//     schema order no matter how they were supplied.
//
// A zero Result, an out-of-range code or a malformed Doc is treated as
// handler misbehavior and turned into a 2400 response.
type Result struct {
	Code     Code
	Msg      string
	Children []*Element
	Doc      *Element
}

// CommandHandler implements the business logic for one EPP command.  A
// returned error (or a panic) becomes a 2400 "Command failed." response and
// the session continues.
type CommandHandler func(ctx context.Context, req *Request) (Result, error)

// ServerInfo is the metadata the Hello callback supplies for the greeting.
type ServerInfo struct {
	// Name is the <svID> value.  Defaults to the lowercased host name.
	Name string

	// Lang lists the advertised languages.  Defaults to ["en"].
	Lang []string

	// Objects lists the object service namespace URIs the server offers.
	Objects []string

	// Extensions lists extension namespace URIs.  The <svcExtension> block
	// is omitted from the greeting when empty.
	Extensions []string
}

// Handlers wires user-supplied business logic into the engine.  The set is
// read-only once the server is serving.  <logout> deliberately has no slot:
// the engine answers it itself.
type Handlers struct {
	// Hello supplies the greeting metadata.  It is consulted once; the
	// greeting skeleton is cached for the life of the server.
	Hello func(*Session) (ServerInfo, error)

	// FrameReceived runs for every parsed and validated <epp> frame other
	// than <hello>, before the command is examined.  Panics are swallowed.
	FrameReceived func(*Session, *Element)

	// ResponsePrepared runs after a command handler's response has been
	// built, just before it is written.  Panics are swallowed.
	ResponsePrepared func(*Session, *Element)

	// SessionClosed runs when the engine accepts a <logout>, before the
	// closing response is sent.
	SessionClosed func(*Session)

	// Command maps a command name (CmdLogin, CmdCheck, ...) to its
	// handler.  A command with no entry draws a 2101 response.
	Command map[string]CommandHandler
}

func (h Handlers) command(name string) CommandHandler {
	if h.Command == nil {
		return nil
	}
	return h.Command[name]
}
