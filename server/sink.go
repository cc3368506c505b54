package server

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
)

// wsSink adapts a *websocket.Conn to registry.Sink. Writes are
// serialized by writeMu since gorilla/websocket forbids concurrent
// writers on one connection, while the broadcaster may fan out to many
// sinks concurrently.
type wsSink struct {
	conn    *websocket.Conn
	writeMu chan struct{}
}

func newWSSink(conn *websocket.Conn) *wsSink {
	s := &wsSink{conn: conn, writeMu: make(chan struct{}, 1)}
	s.writeMu <- struct{}{}
	return s
}

func (s *wsSink) Send(v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}

	<-s.writeMu
	defer func() { s.writeMu <- struct{}{} }()
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *wsSink) Close() error {
	<-s.writeMu
	defer func() { s.writeMu <- struct{}{} }()
	return s.conn.Close()
}

// ping writes a transport-level ping control frame, sharing writeMu with
// Send so a heartbeat never interleaves with a data frame mid-write.
func (s *wsSink) ping(deadline time.Time) error {
	<-s.writeMu
	defer func() { s.writeMu <- struct{}{} }()
	return s.conn.WriteControl(websocket.PingMessage, nil, deadline)
}
