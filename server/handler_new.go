package server

import (
	"log"
	"net/http"

	"github.com/doctree/syncserver/util"
	"golang.org/x/xerrors"
)

// handleNew implements the /new endpoint (spec §4.F): allocate a fresh
// document and upgrade the request to a WebSocket, attached at head 0.
func (s *Server) handleNew(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	doc, err := s.manager.Create(ctx)
	if err != nil {
		respondError(w, mapError(err))
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("warn: WebSocket upgrade failed. err: %v", err)
		return
	}

	go s.serve(doc, conn, 0)
}

// mapError recovers the typed *util.DocError from an error chain the
// same way the teacher's handler layer used xerrors.As to distinguish a
// typed LDAP error from an opaque system failure, rather than asserting
// on err's concrete type directly.
func mapError(err error) *httpError {
	var docErr *util.DocError
	if !xerrors.As(err, &docErr) {
		return internalError(err.Error())
	}

	switch docErr.Kind {
	case util.KindConfiguration, util.KindProtocol:
		return badRequest(docErr.Error())
	default:
		return internalError(docErr.Error())
	}
}
