package main

import (
	"context"
	"flag"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mastercactapus/gscan/config"
	"github.com/mastercactapus/gscan/coord"
	"github.com/mastercactapus/gscan/stream"
)

// gscan-feed sends random points in the unit cube to a receiver, for testing
// the receiver without a scanner.
func main() {
	log.SetFlags(log.Lshortfile)

	cfgPath := flag.String("config", "", "Config file to use (yaml, toml or json).")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := stream.Dial(ctx, cfg.Feed.Addr, stream.ClientOptions{
		DialTimeout:  cfg.Stream.DialTimeout,
		WriteTimeout: cfg.Stream.WriteTimeout,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close()

	t := time.NewTicker(cfg.Feed.Interval)
	defer t.Stop()
	for n := 0; cfg.Feed.Count == 0 || n < cfg.Feed.Count; n++ {
		p := coord.Point{X: rand.Float64(), Y: rand.Float64(), Z: rand.Float64()}
		if err := c.Send(p); err != nil {
			log.Println("ERROR: send:", err)
			return
		}
		select {
		case <-ctx.Done():
			log.Printf("Sent %d points", c.Stats().Points)
			return
		case <-t.C:
		}
	}
	log.Printf("Sent %d points", c.Stats().Points)
}
