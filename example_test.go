package epp_test

import (
	"context"
	"log"

	epp "github.com/gbxyz/epp-server"
)

func Example_server() {
	handlers := epp.Handlers{
		Hello: func(*epp.Session) (epp.ServerInfo, error) {
			return epp.ServerInfo{
				Name:       "epp.example.com",
				Objects:    []string{"urn:ietf:params:xml:ns:domain-1.0"},
				Extensions: []string{"urn:ietf:params:xml:ns:secDNS-1.1"},
			}, nil
		},
		Command: map[string]epp.CommandHandler{
			epp.CmdLogin: func(_ context.Context, req *epp.Request) (epp.Result, error) {
				// check req.Frame credentials against the registrar database
				return epp.Result{Code: epp.CodeOK}, nil
			},
			epp.CmdCheck: func(_ context.Context, req *epp.Request) (epp.Result, error) {
				resData := epp.NewElement(epp.NamespaceEPP, "resData")
				// ... fill in the <chkData> for the queried objects
				return epp.Result{Code: epp.CodeOK, Children: []*epp.Element{resData}}, nil
			},
		},
	}

	srv := epp.NewServer(
		epp.WithAddress("epp.example.com:700"),
		epp.WithKeyPair("server.pem", "server.key"),
		epp.WithClientCAFile("registrars.pem"),
		epp.WithHandlers(handlers),
	)

	if err := srv.ListenAndServe(context.Background()); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}
