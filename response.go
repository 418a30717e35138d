package epp

import (
	"encoding/xml"
	"strconv"
)

// responseChildren is the schema order of the optional children between
// <result> and <trID> in a <response>.
var responseChildren = []string{"msgQ", "resData", "extension"}

// buildResponse constructs a complete <epp><response> document.  An empty
// msg falls back to the code's default text.  Supplied children must carry
// one of the local names in responseChildren; they are deep-copied into the
// document in schema order regardless of the order given.  <trID> appears
// only when at least one transaction ID is known, and <clTRID> only when the
// client supplied one.
func buildResponse(code Code, msg, clTRID, svTRID string, children ...*Element) *Element {
	if msg == "" {
		msg = code.DefaultMessage()
	}

	result := NewElement(NamespaceEPP, "result",
		NewTextElement(NamespaceEPP, "msg", msg),
	)
	result.Attr = []xml.Attr{{
		Name:  xml.Name{Local: "code"},
		Value: strconv.Itoa(int(code)),
	}}

	resp := NewElement(NamespaceEPP, "response", result)

	for _, name := range responseChildren {
		for _, c := range children {
			if c != nil && c.Name.Local == name {
				// import into the response document; the wrapper itself
				// lives in the epp namespace whatever the handler used
				imported := c.Clone()
				imported.Name.Space = NamespaceEPP
				resp.Append(imported)
				break
			}
		}
	}

	if clTRID != "" || svTRID != "" {
		trID := NewElement(NamespaceEPP, "trID")
		if clTRID != "" {
			trID.Append(NewTextElement(NamespaceEPP, "clTRID", clTRID))
		}
		if svTRID != "" {
			trID.Append(NewTextElement(NamespaceEPP, "svTRID", svTRID))
		}
		resp.Append(trID)
	}

	return NewElement(NamespaceEPP, "epp", resp)
}

// normalize coerces whatever a command handler produced into a response
// document.  Handler errors, invalid codes, malformed prebuilt documents and
// unusable children all degrade to 2400 or are dropped, with a log line so
// the operator can fix the handler.
func (s *Server) normalize(res Result, err error, clTRID, svTRID string) *Element {
	if err != nil {
		s.logf("epp: handler failed: %v", err)
		return buildResponse(CodeCommandFailed, "", clTRID, svTRID)
	}

	if res.Doc != nil {
		if res.Doc.Name != (xml.Name{Space: NamespaceEPP, Local: "epp"}) {
			s.logf("epp: handler returned a document whose root is not <epp> (got %s)", res.Doc.Name.Local)
			return buildResponse(CodeCommandFailed, "", clTRID, svTRID)
		}
		return res.Doc
	}

	if !res.Code.Valid() {
		s.logf("epp: handler returned unusable result code %d", res.Code)
		return buildResponse(CodeCommandFailed, "", clTRID, svTRID)
	}

	// First element per local name wins; everything else is dropped.
	seen := make(map[string]*Element, len(responseChildren))
	for _, c := range res.Children {
		if c == nil {
			s.logf("epp: handler returned a nil response child, skipping")
			continue
		}
		switch c.Name.Local {
		case "resData", "msgQ", "extension":
			if seen[c.Name.Local] != nil {
				s.logf("epp: handler returned duplicate <%s> elements, keeping the first", c.Name.Local)
				continue
			}
			seen[c.Name.Local] = c
		default:
			s.logf("epp: handler returned unexpected element <%s>, skipping", c.Name.Local)
		}
	}

	children := make([]*Element, 0, len(seen))
	for _, name := range responseChildren {
		if el := seen[name]; el != nil {
			children = append(children, el)
		}
	}

	return buildResponse(res.Code, res.Msg, clTRID, svTRID, children...)
}

// resultCode extracts the result code from an outbound document.  Greeting
// frames have no <result> and count as success.
func resultCode(doc *Element) Code {
	resp := doc.Child(NamespaceEPP, "response")
	if resp == nil {
		return CodeOK
	}
	result := resp.Child(NamespaceEPP, "result")
	if result == nil {
		return CodeOK
	}
	n, err := strconv.Atoi(result.AttrValue("code"))
	if err != nil {
		return CodeOK
	}
	return Code(n)
}

// isGreeting reports whether an outbound document is a greeting frame.
func isGreeting(doc *Element) bool {
	return doc.Child(NamespaceEPP, "greeting") != nil
}
