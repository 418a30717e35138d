package epp

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// svDateFormat renders the greeting timestamp as a UTC instant with a fixed
// zero fraction, e.g. 2024-03-01T09:30:00.0Z.
const svDateFormat = "2006-01-02T15:04:05.0Z"

// greeting returns the <greeting> frame for the session.  The skeleton is
// built once from the Hello callback; only <svDate> changes between sends.
func (s *Server) greeting(sess *Session) (*Element, error) {
	s.greetOnce.Do(func() {
		info := ServerInfo{}
		if fn := s.handlers.Hello; fn != nil {
			var err error
			if info, err = fn(sess); err != nil {
				s.greetErr = fmt.Errorf("hello callback: %w", err)
				return
			}
		}
		s.greetSkel = buildGreeting(info)
	})
	if s.greetErr != nil {
		return nil, s.greetErr
	}

	g := s.greetSkel.Clone()
	g.Find(NamespaceEPP, "svDate").Text = s.now().UTC().Truncate(time.Second).Format(svDateFormat)
	return g, nil
}

// buildGreeting constructs the timestamp-independent greeting document per
// RFC 5730 section 2.4.  The <svDate> element is left empty for the caller
// to stamp at send time.
func buildGreeting(info ServerInfo) *Element {
	name := info.Name
	if name == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "localhost"
		}
		name = strings.ToLower(host)
	}

	langs := info.Lang
	if len(langs) == 0 {
		langs = []string{"en"}
	}

	svcMenu := NewElement(NamespaceEPP, "svcMenu",
		NewTextElement(NamespaceEPP, "version", "1.0"),
	)
	for _, lang := range langs {
		svcMenu.Append(NewTextElement(NamespaceEPP, "lang", lang))
	}
	for _, uri := range info.Objects {
		svcMenu.Append(NewTextElement(NamespaceEPP, "objURI", uri))
	}
	if len(info.Extensions) > 0 {
		ext := NewElement(NamespaceEPP, "svcExtension")
		for _, uri := range info.Extensions {
			ext.Append(NewTextElement(NamespaceEPP, "extURI", uri))
		}
		svcMenu.Append(ext)
	}

	dcp := NewElement(NamespaceEPP, "dcp",
		NewElement(NamespaceEPP, "access",
			NewElement(NamespaceEPP, "all"),
		),
		NewElement(NamespaceEPP, "statement",
			NewElement(NamespaceEPP, "purpose",
				NewElement(NamespaceEPP, "prov"),
			),
			NewElement(NamespaceEPP, "recipient",
				NewElement(NamespaceEPP, "public"),
			),
			NewElement(NamespaceEPP, "retention",
				NewElement(NamespaceEPP, "legal"),
			),
		),
	)

	return NewElement(NamespaceEPP, "epp",
		NewElement(NamespaceEPP, "greeting",
			NewTextElement(NamespaceEPP, "svID", name),
			NewTextElement(NamespaceEPP, "svDate", ""),
			svcMenu,
			dcp,
		),
	)
}
