package epp

import (
	"context"
	"encoding/xml"
	"fmt"
)

// dispatch turns one inbound frame payload into exactly one outbound
// document.  The gating order is contractual: parse, schema, <hello>,
// structure, authentication, <logout>, handler existence, object service,
// extension service, then the handler itself.  The first failing gate
// answers immediately.
func (s *Server) dispatch(ctx context.Context, sess *Session, payload []byte) *Element {
	svTRID := newSvTRID()

	frame, err := Parse(payload)
	if err != nil {
		return buildResponse(CodeSyntaxError, "XML parse error.", "", svTRID)
	}

	if s.validator != nil {
		if err := s.validator.Validate(frame); err != nil {
			return buildResponse(CodeSyntaxError, "XML schema error.", "", svTRID)
		}
	}

	if frame.Name != (xml.Name{Space: NamespaceEPP, Local: "epp"}) {
		return buildResponse(CodeSyntaxError, "Root element is not <epp>.", "", svTRID)
	}

	if frame.Child(NamespaceEPP, "hello") != nil {
		g, err := s.greeting(sess)
		if err != nil {
			s.logf("epp: session %s: greeting: %v", sess.id, err)
			return buildResponse(CodeCommandFailedBye, "", "", svTRID)
		}
		return g
	}

	s.fireHook("frame_received", func() {
		if fn := s.handlers.FrameReceived; fn != nil {
			fn(sess, frame)
		}
	})

	first := frame.First()
	if first == nil {
		return buildResponse(CodeSyntaxError,
			"First child element of <epp> is not <command> or <extension>.", "", svTRID)
	}

	var (
		cmdName string
		clTRID  string
		command *Element
	)
	switch first.Name {
	case xml.Name{Space: NamespaceEPP, Local: "command"}:
		command = first
		clTRID = command.ChildText(NamespaceEPP, "clTRID")
		verb := command.First()
		if verb == nil {
			return buildResponse(CodeSyntaxError, "Missing command element.", clTRID, svTRID)
		}
		cmdName = verb.Name.Local

	case xml.Name{Space: NamespaceEPP, Local: "extension"}:
		cmdName = CmdOther

	default:
		return buildResponse(CodeSyntaxError,
			"First child element of <epp> is not <command> or <extension>.", "", svTRID)
	}

	if !sess.Authenticated() && cmdName != CmdLogin {
		return buildResponse(CodeAuthenticationError, "You are not logged in.", clTRID, svTRID)
	}
	if sess.Authenticated() && cmdName == CmdLogin {
		return buildResponse(CodeAuthenticationError, "You are already logged in.", clTRID, svTRID)
	}

	if cmdName == CmdLogout {
		s.fireHook("session_closed", func() {
			if fn := s.handlers.SessionClosed; fn != nil {
				fn(sess)
			}
		})
		return buildResponse(CodeOKBye,
			"Command completed successfully; ending session.", clTRID, svTRID)
	}

	handler := s.handlers.command(cmdName)
	if handler == nil {
		return buildResponse(CodeUnimplementedCommand,
			fmt.Sprintf("This server does not implement the <%s> command.", cmdName),
			clTRID, svTRID)
	}

	if objectCommands[cmdName] {
		obj := command.First().First()
		if obj == nil {
			return buildResponse(CodeSyntaxError, "Missing object element.", clTRID, svTRID)
		}
		if !sess.Objects().Has(obj.Name.Space) {
			return buildResponse(CodeUnimplementedObject,
				fmt.Sprintf("This server does not support %s objects.", obj.Name.Space),
				clTRID, svTRID)
		}
	}

	// Extension URIs on the top-level <extension> path are not checked
	// against the session's negotiated extensions; only the <extension>
	// inside a <command> is.
	if cmdName != CmdLogin && command != nil {
		if ext := command.Child(NamespaceEPP, "extension"); ext != nil {
			for _, c := range ext.Children {
				if !sess.Extensions().Has(c.Name.Space) {
					return buildResponse(CodeUnimplementedExt,
						fmt.Sprintf("This server does not support the %s extension.", c.Name.Space),
						clTRID, svTRID)
				}
			}
		}
	}

	req := &Request{
		Frame:   frame,
		Session: sess,
		ClTRID:  clTRID,
		SvTRID:  svTRID,
	}
	res, err := s.invoke(ctx, handler, req)
	resp := s.normalize(res, err, clTRID, svTRID)

	if cmdName == CmdLogin && resultCode(resp).IsSuccess() {
		commitLogin(sess, command.First())
	}

	s.fireHook("response_prepared", func() {
		if fn := s.handlers.ResponsePrepared; fn != nil {
			fn(sess, resp)
		}
	})

	return resp
}

// invoke runs the handler, converting panics into ordinary errors so one
// misbehaving handler cannot take the connection goroutine down.
func (s *Server) invoke(ctx context.Context, handler CommandHandler, req *Request) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, req)
}

// fireHook runs a lifecycle hook, swallowing panics.  Hooks observe the
// session; they must never decide its fate.
func (s *Server) fireHook(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logf("epp: %s hook panic: %v", name, r)
		}
	}()
	fn()
}

// commitLogin records the repertoire a successful <login> negotiated.  The
// client-supplied values are stored verbatim.
func commitLogin(sess *Session, login *Element) {
	clid := login.ChildText(NamespaceEPP, "clID")

	lang := "en"
	if opts := login.Child(NamespaceEPP, "options"); opts != nil {
		if l := opts.ChildText(NamespaceEPP, "lang"); l != "" {
			lang = l
		}
	}

	var objects, extensions []string
	for _, el := range login.FindAll(NamespaceEPP, "objURI") {
		objects = append(objects, el.Text)
	}
	for _, el := range login.FindAll(NamespaceEPP, "extURI") {
		extensions = append(extensions, el.Text)
	}

	sess.login(clid, lang, objects, extensions)
}
