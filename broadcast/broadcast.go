// Package broadcast is the fan-out broadcaster (spec §4.E). It delivers
// one server-update per attached sink, eliding the change list on the
// frame sent back to the update's originator. The pattern generalizes
// the teacher's cross-process NOTIFY fan-out in repo/repo.go, where a
// listener skips replaying a message whose Issuer matches its own
// server id — here the equivalent "skip/elide for the origin" decision
// happens per-sink instead of per-process.
package broadcast

import (
	"log"
	"sync"

	"github.com/doctree/syncserver/pointer"
	"github.com/doctree/syncserver/registry"
	"github.com/doctree/syncserver/wire"
)

type job struct {
	version int64
	changes []pointer.Change
	origin  int64
}

// Broadcaster serializes fan-out per document so that a sink's frames
// are never delivered out of version order, while still letting sends to
// distinct sinks for the same version happen concurrently.
type Broadcaster struct {
	registry *registry.Registry
	onFail   func(id int64)

	queue chan job
	done  chan struct{}
}

// New starts a Broadcaster bound to reg. onFail is invoked (from the
// per-sink send goroutine that fanout starts, so possibly concurrently
// for different sinks) when a send to a sink fails, so the caller can
// detach it; see spec §7's transport-error policy.
func New(reg *registry.Registry, onFail func(id int64)) *Broadcaster {
	b := &Broadcaster{
		registry: reg,
		onFail:   onFail,
		queue:    make(chan job, 64),
		done:     make(chan struct{}),
	}
	go b.run()
	return b
}

// Enqueue schedules a server-update for fan-out. The actual sends happen
// on the broadcaster's own goroutines. The queue holds 64 jobs; when it
// is full, Enqueue blocks until the broadcaster has finished sending an
// earlier job and taken the next one.
func (b *Broadcaster) Enqueue(version int64, changes []pointer.Change, origin int64) {
	b.queue <- job{version: version, changes: changes, origin: origin}
}

// Close stops accepting new jobs. Already-enqueued jobs are still
// delivered before the background goroutine exits.
func (b *Broadcaster) Close() {
	close(b.queue)
	<-b.done
}

func (b *Broadcaster) run() {
	defer close(b.done)
	for j := range b.queue {
		b.fanout(j)
	}
}

func (b *Broadcaster) fanout(j job) {
	var wg sync.WaitGroup
	b.registry.Iter(func(id int64, sink registry.Sink) {
		wg.Add(1)
		go func(id int64, sink registry.Sink) {
			defer wg.Done()

			var payload wire.ServerUpdate
			if id == j.origin {
				payload = wire.NewOriginatorUpdate(j.version)
			} else {
				payload = wire.NewPeerUpdate(j.version, j.changes)
			}

			if err := sink.Send(payload); err != nil {
				log.Printf("info: Detaching sink after failed send. sink_id: %d, version: %d, err: %v", id, j.version, err)
				_ = sink.Close()
				if b.onFail != nil {
					b.onFail(id)
				}
			}
		}(id, sink)
	})
	wg.Wait()
}
