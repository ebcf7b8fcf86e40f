package main

import (
	"context"
	"log"
	"time"

	"github.com/mastercactapus/gscan/tfmini"
)

const sensorTestEvery = 50

// runSensorTest prints every 50th reading and the frame rate over those
// readings until ctx is done.
func runSensorTest(ctx context.Context, s *tfmini.Sensor, retries int) {
	go func() {
		<-ctx.Done()
		s.Close()
	}()

	s.ResetInput()
	n := 0
	t := time.Now()
	for ctx.Err() == nil {
		m, err := tfmini.ReadRetry(s, false, retries)
		if err != nil {
			if ctx.Err() == nil {
				log.Println("ERROR: read sensor:", err)
			}
			return
		}
		n++
		if n%sensorTestEvery != 0 {
			continue
		}
		log.Printf("Distance %dcm (%s), strength %d, temp %.1fC", m.Distance, m.Status, m.Strength, m.Temperature)
		log.Printf("Rate: %.1fHz", sensorTestEvery/time.Since(t).Seconds())
		t = time.Now()
	}
}
