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

	"github.com/mastercactapus/gscan/api"
	"github.com/mastercactapus/gscan/config"
	"github.com/mastercactapus/gscan/metrics"
	"github.com/mastercactapus/gscan/runner"
	"github.com/mastercactapus/gscan/scan"
	"github.com/mastercactapus/gscan/stream"
)

func main() {
	log.SetFlags(log.Lshortfile)

	cfgPath := flag.String("config", "", "Config file to use (yaml, toml or json).")
	simulate := flag.Bool("simulate", false, "Use a simulated sensor and axes.")
	sensorTest := flag.Bool("sensor-test", false, "Print sensor readings and the frame rate, then exit on interrupt.")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal(err)
	}
	if *simulate {
		cfg.Sensor.Simulate = true
		cfg.Actuator.Driver = "sim"
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sensor, err := openSensor(cfg.Sensor)
	if err != nil {
		log.Fatal(err)
	}
	defer sensor.Close()

	if *sensorTest {
		runSensorTest(ctx, sensor, cfg.Sensor.Retries)
		return
	}

	axes, closeAxes, err := openAxes(cfg.Actuator)
	if err != nil {
		log.Fatal(err)
	}
	defer closeAxes()

	ctrl := scan.NewController(axes, sensor, scan.Options{
		Retries:       cfg.Sensor.Retries,
		Backlog:       cfg.Scan.Backlog,
		MinStrength:   cfg.Sensor.MinStrength,
		DistanceScale: cfg.Sensor.DistanceScale,
		Limits:        cfg.Limits(),
	})
	if err := ctrl.Reset(); err != nil {
		log.Println("ERROR: reset:", err)
	}

	r := runner.New(ctrl, func(ctx context.Context) (runner.Sender, error) {
		c, err := stream.Dial(ctx, cfg.Stream.Addr, stream.ClientOptions{
			DialTimeout:  cfg.Stream.DialTimeout,
			WriteTimeout: cfg.Stream.WriteTimeout,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	})
	r.SendInvalid = cfg.Stream.SendInvalid

	m := metrics.New()
	m.Sensor(sensor)
	m.Scanner(ctrl)
	m.Sender(r.Stats)

	a := api.New(r, api.Options{
		Pattern:       cfg.Pattern(),
		Order:         cfg.Order(),
		StateInterval: cfg.API.StateInterval,
		Metrics:       m,
	})

	srv := &http.Server{
		Addr: cfg.API.Addr,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "*")
			log.Printf("%s %s - %s", req.Method, req.URL.Path, req.RemoteAddr)
			a.ServeHTTP(w, req)
		}),
	}
	go func() {
		<-ctx.Done()
		log.Println("Shutting down")
		r.Close()
		a.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Println("Listening on", cfg.API.Addr)
	err = srv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
	if err := ctrl.Reset(); err != nil {
		log.Println("ERROR: reset:", err)
	}
}
