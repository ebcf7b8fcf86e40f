package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/mastercactapus/gscan/api"
	"github.com/mastercactapus/gscan/config"
	"github.com/mastercactapus/gscan/metrics"
	"github.com/mastercactapus/gscan/stream"
)

const progressInterval = 5 * time.Second

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

	q := stream.NewQueue(cfg.Server.QueueCapacity)
	srv := stream.NewServer(q, stream.ServerOptions{ReadTimeout: cfg.Server.ReadTimeout})
	feed := api.NewFeed()

	m := metrics.New()
	m.Receiver(srv, q)

	r := mux.NewRouter()
	r.Handle("/ws/points", feed)
	r.Handle("/metrics", m.Handler())
	httpSrv := &http.Server{Addr: cfg.Server.HTTPAddr, Handler: r}

	consumed := make(chan struct{})
	go func() {
		defer close(consumed)
		consume(q, feed, progressInterval)
	}()

	go func() {
		log.Println("Serving feed and metrics on", cfg.Server.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Println("ERROR: http:", err)
		}
	}()

	go func() {
		<-ctx.Done()
		log.Println("Shutting down")
		srv.Close()
		q.Close()
	}()

	err = srv.ListenAndServe(cfg.Server.Listen)
	if err != nil && !errors.Is(err, stream.ErrServerClosed) {
		log.Fatal(err)
	}

	<-consumed
	feed.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	httpSrv.Shutdown(shutdownCtx)
}
