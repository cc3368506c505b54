package server

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/doctree/syncserver/docsession"
	"github.com/doctree/syncserver/wire"
	"github.com/gorilla/websocket"
)

// serve performs the handshake/catch-up attach and then owns conn for
// its lifetime: one reader goroutine decoding client frames, plus a
// heartbeat goroutine pinging an otherwise-idle connection (spec §4.F,
// with the idle-ping keepalive supplemented from the original server's
// absence of any liveness check).
func (s *Server) serve(doc *docsession.Document, conn *websocket.Conn, head int64) {
	ctx := context.Background()
	sink := newWSSink(conn)

	sinkID, err := doc.Attach(ctx, sink, head)
	if err != nil {
		log.Printf("warn: Attach failed, closing connection. err: %v", err)
		_ = conn.Close()
		return
	}

	heartbeatDone := make(chan struct{})
	go s.heartbeat(sink, heartbeatDone)
	defer close(heartbeatDone)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	defer doc.Detach(sinkID)

	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			// Close, or a read error on an already-broken connection:
			// either way the session is over.
			return
		}

		if messageType != websocket.TextMessage {
			log.Printf("warn: Dropping connection on non-text frame. sink_id: %d", sinkID)
			_ = sink.Close()
			return
		}

		var update wire.ClientUpdate
		if err := json.Unmarshal(payload, &update); err != nil {
			log.Printf("warn: Dropping connection on malformed update. sink_id: %d, err: %v", sinkID, err)
			_ = sink.Close()
			return
		}

		if err := doc.Handle(ctx, update, sinkID); err != nil {
			log.Printf("warn: Handle failed, closing connection. sink_id: %d, err: %v", sinkID, err)
			_ = sink.Close()
			return
		}
	}
}

func (s *Server) heartbeat(sink *wsSink, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := sink.ping(time.Now().Add(5 * time.Second)); err != nil {
				return
			}
		}
	}
}
