package ptz

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/technosupport/ts-safety/internal/metrics"
)

type commandKind int

const (
	cmdContinuous commandKind = iota
	cmdAbsolute
	cmdStop
)

// Command is one queued camera operation.
type Command struct {
	kind commandKind
	pan  float64
	tilt float64
	zoom float64
}

func Continuous(pan, tilt, zoom float64) Command {
	return Command{kind: cmdContinuous, pan: pan, tilt: tilt, zoom: zoom}
}

func Absolute(pan, tilt, zoom float64) Command {
	return Command{kind: cmdAbsolute, pan: pan, tilt: tilt, zoom: zoom}
}

func StopMovement() Command { return Command{kind: cmdStop} }

const (
	commandQueueSize = 32

	// Pause between device calls so the camera is not overrun.
	interCommandDelay = 100 * time.Millisecond

	deviceCallTimeout = 3 * time.Second
)

// Controller serializes camera commands through a single consumer. The
// enqueue side never blocks; when the queue is full the command is
// dropped, which is safe because a newer correction supersedes it.
type Controller struct {
	cam      Camera
	streamID string

	queue chan Command

	mu      sync.Mutex
	stopped bool

	done chan struct{}
}

func NewController(streamID string, cam Camera) *Controller {
	c := &Controller{
		cam:      cam,
		streamID: streamID,
		queue:    make(chan Command, commandQueueSize),
		done:     make(chan struct{}),
	}
	go c.consume()
	return c
}

// Enqueue adds a command; drops it when the queue is full or closed.
func (c *Controller) Enqueue(cmd Command) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	select {
	case c.queue <- cmd:
	default:
		log.Printf("[PTZ] %s: command queue full, dropping command", c.streamID)
	}
}

// Clear drains pending commands without executing them. Used when a
// focus session ends and its queued corrections are stale. A closed
// queue receives forever, so the drain checks for it explicitly.
func (c *Controller) Clear() {
	for {
		select {
		case _, ok := <-c.queue:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

// Close stops the consumer. Commands enqueued after Close are dropped.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.mu.Unlock()

	close(c.queue)
	<-c.done
}

func (c *Controller) consume() {
	defer close(c.done)
	for cmd := range c.queue {
		c.execute(cmd)
		time.Sleep(interCommandDelay)
	}
}

// execute runs one device call. Device failures are logged and dropped;
// a PTZ fault never takes the stream down.
func (c *Controller) execute(cmd Command) {
	ctx, cancel := context.WithTimeout(context.Background(), deviceCallTimeout)
	defer cancel()

	var err error
	var kind string
	switch cmd.kind {
	case cmdContinuous:
		kind = "continuous"
		err = c.cam.ContinuousMove(ctx, cmd.pan, cmd.tilt, cmd.zoom)
	case cmdAbsolute:
		kind = "absolute"
		err = c.cam.AbsoluteMove(ctx, cmd.pan, cmd.tilt, cmd.zoom)
	case cmdStop:
		kind = "stop"
		err = c.cam.Stop(ctx)
	}
	if err != nil {
		log.Printf("[PTZ] %s: device call failed: %v", c.streamID, err)
		return
	}
	metrics.PTZCommandsTotal.WithLabelValues(c.streamID, kind).Inc()
}
