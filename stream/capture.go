package stream

import (
	"log/slog"
	"time"
)

// Capture pulls frames from a source at a fixed cadence and publishes
// the newest into a slot. It holds no backlog: a slow viewer sees
// dropped frames, never queued ones.
type Capture struct {
	source Source
	slot   *Slot
	fps    int
	log    *slog.Logger

	stop chan struct{}
	done chan struct{}
}

func NewCapture(source Source, slot *Slot, fps int, log *slog.Logger) *Capture {
	if fps <= 0 {
		fps = 1
	}
	return &Capture{
		source: source,
		slot:   slot,
		fps:    fps,
		log:    log,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start launches the capture loop on its own goroutine.
func (c *Capture) Start() {
	go c.run()
}

// Stop terminates the loop and waits for it to exit.
func (c *Capture) Stop() {
	close(c.stop)
	<-c.done
}

func (c *Capture) run() {
	defer close(c.done)
	interval := time.Second / time.Duration(c.fps)
	c.log.Debug("capture loop running", "fps", c.fps)

	for {
		select {
		case <-c.stop:
			return
		default:
		}

		start := time.Now()
		if frame := c.source.Frame(); frame != nil {
			c.slot.Set(frame)
		}

		remaining := interval - time.Since(start)
		if remaining <= 0 {
			continue
		}
		timer := time.NewTimer(remaining)
		select {
		case <-c.stop:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}
