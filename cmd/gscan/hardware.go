package main

import (
	"fmt"
	"log"
	"time"

	"github.com/mastercactapus/gscan/actuator"
	"github.com/mastercactapus/gscan/actuator/grbl"
	"github.com/mastercactapus/gscan/config"
	"github.com/mastercactapus/gscan/serialport"
	"github.com/mastercactapus/gscan/tfmini"
)

// grblBootTime covers the reset Grbl performs when its port is opened.
const grblBootTime = 2 * time.Second

func openSensor(cfg config.Sensor) (*tfmini.Sensor, error) {
	if cfg.Simulate {
		log.Println("Using simulated sensor")
		return tfmini.NewSensor(tfmini.NewSimulator(cfg.SimInterval)), nil
	}
	port, err := serialport.Open(cfg.Device, serialport.Options{Driver: cfg.Driver, Baud: cfg.Baud})
	if err != nil {
		return nil, fmt.Errorf("open sensor: %w", err)
	}
	return tfmini.NewSensor(port), nil
}

func openAxes(cfg config.Actuator) (actuator.Axes, func(), error) {
	switch cfg.Driver {
	case "sim":
		log.Println("Using simulated axes")
		return &actuator.Recorder{Max: 1000}, func() {}, nil
	case "grbl":
	default:
		return nil, nil, fmt.Errorf("unknown actuator driver %q", cfg.Driver)
	}

	port, err := serialport.Open(cfg.Device, serialport.Options{
		Driver:  cfg.SerialDriver,
		Baud:    cfg.Baud,
		SPJSURL: cfg.SPJSURL,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open actuator: %w", err)
	}
	conn := grbl.NewConn(port)
	time.Sleep(grblBootTime)

	axes := &grbl.Axes{
		Conn:           conn,
		H:              cfg.HAxis[0],
		V:              cfg.VAxis[0],
		UnitsPerDegree: cfg.UnitsPerDegree,
	}
	if err := axes.Unlock(); err != nil {
		log.Println("ERROR: unlock grbl:", err)
	}
	if pos, state, err := axes.Position(time.Second); err != nil {
		log.Println("ERROR: query grbl status:", err)
	} else {
		log.Printf("Grbl %s at (%g, %g)", state, pos.H, pos.V)
	}
	return axes, func() { conn.Close() }, nil
}
