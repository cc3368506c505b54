// Package server is the HTTP/WebSocket transport (spec §4.F, §6): the
// /new and /join endpoints, the connection upgrade, and the receive loop
// that turns client frames into docsession.Document.Handle calls. It
// generalizes the teacher's ldapserver request-dispatch shape
// (server/handler_*.go: validate request, call into the session layer,
// translate the result back into a wire response) from LDAP operations
// onto the two WebSocket endpoints this protocol has.
package server

import (
	"log"
	"net/http"
	"time"

	"github.com/doctree/syncserver/docsession"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// pingInterval is how often an idle connection is sent a transport-level
// ping, the supplemented keepalive feature SPEC_FULL.md adds: it exists
// so that a silently dead TCP connection surfaces as a read-deadline
// error within pongWait of the last pong instead of lingering as a
// stuck sink forever.
const pingInterval = 30 * time.Second

// pongWait must exceed pingInterval so a client's pong for the previous
// ping always lands before the next one is due.
const pongWait = pingInterval + 10*time.Second

// Server wires the session manager into an HTTP mux, the same role the
// teacher's Server struct plays for its LDAP handlers (Repo(), schema
// registry, Suffix) — here narrowed to the one dependency this protocol
// needs.
type Server struct {
	manager  *docsession.Manager
	upgrader websocket.Upgrader
}

func New(manager *docsession.Manager) *Server {
	return &Server{
		manager: manager,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Any origin may connect; this server has no notion of a
			// same-origin browser client to enforce against.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Router builds the gorilla/mux router exposing /new and /join. Spec §6
// names both routes method-agnostically (POST|GET); a WebSocket upgrade
// is a GET in every client library in practice, but POST is accepted too
// rather than rejected with a 405.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/new", s.handleNew).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/join", s.handleJoin).Methods(http.MethodGet, http.MethodPost)
	return r
}

func respondError(w http.ResponseWriter, err *httpError) {
	log.Printf("warn: Request failed. status: %d, message: %s", err.status, err.message)
	writeHTTPError(w, err)
}
