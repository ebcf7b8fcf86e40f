package main

import (
	"log"
	"time"

	"github.com/mastercactapus/gscan/coord"
	"github.com/mastercactapus/gscan/stream"
)

// pointSink receives every consumed point.
type pointSink interface {
	Publish(p coord.Point)
}

type progress struct {
	Total    uint64
	Farthest float64
}

// consume drains q until it is closed and empty, forwarding points to sink.
func consume(q *stream.Queue, sink pointSink, every time.Duration) progress {
	t := time.NewTicker(every)
	defer t.Stop()

	var pr progress
	var last uint64
	take := func(p coord.Point) {
		pr.Total++
		if d := p.Norm(); d > pr.Farthest {
			pr.Farthest = d
		}
		sink.Publish(p)
	}
	for {
		select {
		case p := <-q.C():
			take(p)
		case <-t.C:
			if pr.Total != last {
				log.Printf("Received %d points (%d new), farthest %.2fm", pr.Total, pr.Total-last, pr.Farthest)
				last = pr.Total
			}
		case <-q.Done():
			for {
				p, ok := q.TryPop()
				if !ok {
					break
				}
				take(p)
			}
			log.Printf("Received %d points in total", pr.Total)
			return pr
		}
	}
}
