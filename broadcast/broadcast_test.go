//go:build test

package broadcast

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/doctree/syncserver/pointer"
	"github.com/doctree/syncserver/registry"
	"github.com/doctree/syncserver/wire"
)

type recordingSink struct {
	mu       sync.Mutex
	versions []int64
}

func (s *recordingSink) Send(v interface{}) error {
	update, ok := v.(wire.ServerUpdate)
	if !ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.versions = append(s.versions, update.Version)
	return nil
}

func (s *recordingSink) Close() error { return nil }

func (s *recordingSink) recorded() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, len(s.versions))
	copy(out, s.versions)
	return out
}

func TestFanoutPreservesPerSinkVersionOrder(t *testing.T) {
	reg := registry.New()
	sink := &recordingSink{}
	reg.Add(sink)

	b := New(reg, func(id int64) {})

	for v := int64(1); v <= 20; v++ {
		b.Enqueue(v, []pointer.Change{pointer.NewDeleteChange("/x")}, -1)
	}

	b.Close()

	got := sink.recorded()
	if len(got) != 20 {
		t.Fatalf("expected 20 deliveries, got %d", len(got))
	}
	for i, v := range got {
		if v != int64(i+1) {
			t.Fatalf("out-of-order delivery at index %d: %v", i, got)
		}
	}
}

type failingSink struct{}

func (s *failingSink) Send(v interface{}) error { return errSend }
func (s *failingSink) Close() error             { return nil }

var errSend = errors.New("send failed")

func TestFanoutDetachesFailingSink(t *testing.T) {
	reg := registry.New()
	id := reg.Add(&failingSink{})

	var detached int64 = -1
	done := make(chan struct{})
	b := New(reg, func(failedID int64) {
		detached = failedID
		close(done)
	})
	defer b.Close()

	b.Enqueue(1, nil, -1)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("onFail was never called")
	}

	if detached != id {
		t.Fatalf("expected onFail(%d), got %d", id, detached)
	}
}
