// Package capture pulls decoded BGR frames out of an RTSP source and into
// a bounded queue. Decoding is delegated to an ffmpeg subprocess writing
// rawvideo to a pipe; the pipeline supervises that process, reconnects
// with backoff, and switches to an alternative descriptor when the decoder
// itself (not the network) keeps failing.
package capture

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"os/exec"
	"sync"
	"time"

	"github.com/technosupport/ts-safety/internal/frame"
	"github.com/technosupport/ts-safety/internal/metrics"
)

const (
	// decoderFailureSwitchThreshold is how many decoder-class exits in a
	// row move the pipeline onto the alternative descriptor.
	decoderFailureSwitchThreshold = 3
	// backoffAttemptCap bounds the backoff multiplier, not the retries.
	backoffAttemptCap = 5
	stderrTailSize    = 4096
)

// Config parameterizes one capture pipeline.
type Config struct {
	StreamID      string
	RTSPURL       string
	Width, Height int
	ReconnectWait time.Duration
	MaxReconnect  time.Duration
	FrameTimeout  time.Duration
	QueueSize     int
}

// Pipeline owns the decode subprocess and the frame queue for one stream.
type Pipeline struct {
	cfg    Config
	frames chan *frame.Frame

	stop chan struct{}
	wg   sync.WaitGroup

	mu              sync.Mutex
	lastFrameTime   time.Time
	frameLatencyMs  float64
	descriptor      Descriptor
	decoderFailures int

	// 1-second sliding window over bytes into the decoder.
	byteWindow []byteSample

	killMu sync.Mutex
	cmd    *exec.Cmd
}

type byteSample struct {
	at time.Time
	n  int
}

// New builds a pipeline. Frames appear on Frames() once Start is called.
func New(cfg Config) *Pipeline {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 10
	}
	if cfg.FrameTimeout <= 0 {
		cfg.FrameTimeout = 5 * time.Second
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	if cfg.MaxReconnect <= 0 {
		cfg.MaxReconnect = 60 * time.Second
	}
	cfg.RTSPURL = NormalizeRTSPURL(cfg.RTSPURL)
	return &Pipeline{
		cfg:    cfg,
		frames: make(chan *frame.Frame, cfg.QueueSize),
		stop:   make(chan struct{}),
	}
}

// Frames is the bounded output queue. When the consumer lags, frames are
// dropped at this queue; that is the only backpressure mechanism.
func (p *Pipeline) Frames() <-chan *frame.Frame { return p.frames }

// Start spawns the capture loop.
func (p *Pipeline) Start() {
	p.wg.Add(1)
	go p.run()
}

// Stop tears the pipeline down and waits for the capture loop to exit.
func (p *Pipeline) Stop() {
	select {
	case <-p.stop:
		return // already stopped
	default:
	}
	close(p.stop)
	p.killProcess()
	p.wg.Wait()
}

// Healthy reports whether a frame arrived within the frame timeout. A
// pipeline that has not produced its first frame yet is graded against
// its start time instead.
func (p *Pipeline) Healthy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastFrameTime.IsZero() {
		return true // still connecting; the reconnect loop owns that case
	}
	return time.Since(p.lastFrameTime) < p.cfg.FrameTimeout
}

// BitrateBPS reports bytes/sec into the decoder over the last second.
// For external health reporting only; the core does not gate on it.
func (p *Pipeline) BitrateBPS() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	cutoff := time.Now().Add(-time.Second)
	total := 0
	for _, s := range p.byteWindow {
		if s.at.After(cutoff) {
			total += s.n
		}
	}
	return float64(total) * 8
}

// FrameLatencyMs reports the interval between the last two frames.
func (p *Pipeline) FrameLatencyMs() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frameLatencyMs
}

func (p *Pipeline) run() {
	defer p.wg.Done()
	attempt := 0

	for {
		select {
		case <-p.stop:
			return
		default:
		}

		start := time.Now()
		framesOut, stderrTail, err := p.captureOnce()
		if err == nil {
			return // clean stop
		}

		metrics.CaptureReconnects.WithLabelValues(p.cfg.StreamID).Inc()

		class := classifyError(stderrTail)
		switch class {
		case errClassDecoder:
			p.mu.Lock()
			p.decoderFailures++
			if p.decoderFailures >= decoderFailureSwitchThreshold && p.descriptor == DescriptorPrimary {
				p.descriptor = DescriptorAlternative
				log.Printf("[Capture:%s] repeated decoder failures, switching to %s descriptor",
					p.cfg.StreamID, p.descriptor)
			}
			p.mu.Unlock()
		case errClassConnection:
			// Connection-class errors never trigger the switch.
		default:
			// A session that ran for a while and produced frames was a
			// working configuration; don't count it against the decoder.
			if framesOut > 0 && time.Since(start) > 10*time.Second {
				p.mu.Lock()
				p.decoderFailures = 0
				p.mu.Unlock()
			}
		}

		attempt++
		k := attempt
		if k > backoffAttemptCap {
			k = backoffAttemptCap
		}
		wait := time.Duration(k) * p.cfg.ReconnectWait
		if wait > p.cfg.MaxReconnect {
			wait = p.cfg.MaxReconnect
		}
		log.Printf("[Capture:%s] capture ended (%v), reconnecting in %v (attempt %d)",
			p.cfg.StreamID, err, wait, attempt)

		select {
		case <-p.stop:
			return
		case <-time.After(wait):
		}

		if framesOut > 0 {
			attempt = 0 // the source was reachable; reset the ladder
		}
	}
}

// captureOnce runs one ffmpeg session until it exits or the pipeline is
// stopped. Returns the number of frames decoded and the stderr tail for
// error classification.
func (p *Pipeline) captureOnce() (int, string, error) {
	p.mu.Lock()
	desc := p.descriptor
	p.mu.Unlock()

	args := ffmpegArgs(desc, p.cfg.RTSPURL, p.cfg.Width, p.cfg.Height)
	cmd := exec.Command("ffmpeg", args...)

	stderr := newBoundedBuffer(stderrTailSize)
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return 0, "", fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return 0, "", fmt.Errorf("start ffmpeg: %w", err)
	}

	p.killMu.Lock()
	p.cmd = cmd
	p.killMu.Unlock()

	frameSize := p.cfg.Width * p.cfg.Height * 3
	buf := make([]byte, frameSize)
	var prev time.Time
	framesOut := 0

	for {
		select {
		case <-p.stop:
			p.killProcess()
			_ = cmd.Wait()
			return framesOut, stderr.String(), nil
		default:
		}

		if _, err := io.ReadFull(stdout, buf); err != nil {
			_ = cmd.Wait()
			return framesOut, stderr.String(), fmt.Errorf("read frame: %w", err)
		}

		now := time.Now()
		pix := make([]byte, frameSize)
		copy(pix, buf)
		f, _ := frame.FromBGR(pix, p.cfg.Width, p.cfg.Height, now)

		p.mu.Lock()
		p.lastFrameTime = now
		if !prev.IsZero() {
			p.frameLatencyMs = float64(now.Sub(prev).Microseconds()) / 1000.0
		}
		prev = now
		p.recordBytesLocked(now, frameSize)
		p.mu.Unlock()

		framesOut++
		metrics.CaptureFramesTotal.WithLabelValues(p.cfg.StreamID).Inc()

		// Bounded queue, drop-on-full.
		select {
		case p.frames <- f:
		default:
			metrics.CaptureFramesDropped.WithLabelValues(p.cfg.StreamID).Inc()
		}
		metrics.FrameQueueDepth.WithLabelValues(p.cfg.StreamID).Set(float64(len(p.frames)))
	}
}

func (p *Pipeline) recordBytesLocked(now time.Time, n int) {
	p.byteWindow = append(p.byteWindow, byteSample{at: now, n: n})
	cutoff := now.Add(-time.Second)
	trim := 0
	for trim < len(p.byteWindow) && !p.byteWindow[trim].at.After(cutoff) {
		trim++
	}
	p.byteWindow = p.byteWindow[trim:]
}

// Interrupt kills the current decode session without stopping the
// pipeline; the capture loop classifies the exit and reconnects per the
// backoff. The health watcher uses it when frames stall but the process
// is still alive.
func (p *Pipeline) Interrupt() {
	p.killProcess()
}

func (p *Pipeline) killProcess() {
	p.killMu.Lock()
	defer p.killMu.Unlock()
	if p.cmd != nil && p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
}

// boundedBuffer keeps the most recent stderr output for error
// classification without letting a chatty decoder grow memory.
type boundedBuffer struct {
	mu   sync.Mutex
	buf  bytes.Buffer
	size int
}

func newBoundedBuffer(size int) *boundedBuffer {
	return &boundedBuffer{size: size}
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.buf.Len()+len(p) > b.size {
		b.buf.Reset()
		if len(p) > b.size {
			p = p[len(p)-b.size:]
		}
	}
	return b.buf.Write(p)
}

func (b *boundedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
