// Package publish fans accepted records out to optional external sinks.
// Publication is best-effort: a sink failure is logged and the record is
// still durable in the local store.
package publish

import (
	"context"
	"log"
	"time"

	"github.com/mweigel/dhtbot/reading"
)

// publishTimeout bounds how long one record may occupy a sink.
const publishTimeout = 10 * time.Second

type Publisher interface {
	Publish(ctx context.Context, rec reading.Record) error
	Close()
}

// Fanout publishes each record to every sink. An empty Fanout is valid and
// does nothing.
type Fanout []Publisher

func (f Fanout) Publish(rec reading.Record) {
	for _, p := range f {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if err := p.Publish(ctx, rec); err != nil {
			log.Printf("publish: %v", err)
		}
		cancel()
	}
}

func (f Fanout) Close() {
	for _, p := range f {
		p.Close()
	}
}
