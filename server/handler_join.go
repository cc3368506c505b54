package server

import (
	"log"
	"net/http"
	"strconv"

	"github.com/doctree/syncserver/journal"
)

// handleJoin implements the /join endpoint (spec §4.F): resolve the
// handle in the id query parameter, materializing the descriptor from
// the journal if needed, and upgrade the request to a WebSocket attached
// at the requested head version (default 0).
func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	query := r.URL.Query()
	handle := query.Get("id")
	if handle == "" {
		respondError(w, badRequest("missing required query parameter: id"))
		return
	}

	head, err := parseHead(query.Get("head"))
	if err != nil {
		respondError(w, badRequest("invalid head query parameter: "+err.Error()))
		return
	}

	doc, err := s.manager.Join(ctx, handle)
	if err != nil {
		if err == journal.ErrNotFound {
			respondError(w, notFound("unknown document handle"))
			return
		}
		respondError(w, mapError(err))
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("warn: WebSocket upgrade failed. err: %v", err)
		return
	}

	go s.serve(doc, conn, head)
}

func parseHead(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}
