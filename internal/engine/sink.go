package engine

import (
	"fmt"
	"io"
	"log"
	"os/exec"
	"strconv"
	"sync"

	"github.com/technosupport/ts-safety/internal/frame"
	"github.com/technosupport/ts-safety/internal/metrics"
)

// Sink republishes annotated frames to the RTMP endpoint for a stream.
// It owns one encoder subprocess fed raw BGR on stdin; a broken pipe
// tears the process down and the next frame respawns it.
type Sink struct {
	streamID string
	url      string
	w, h     int

	mu    sync.Mutex
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

func NewSink(streamID, rtmpServer string, w, h int) *Sink {
	return &Sink{
		streamID: streamID,
		url:      rtmpServer + "/" + streamID,
		w:        w,
		h:        h,
	}
}

// Write sends one frame to the encoder, spawning it on demand.
func (s *Sink) Write(f *frame.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stdin == nil {
		if err := s.spawnLocked(); err != nil {
			return err
		}
	}
	if _, err := s.stdin.Write(f.Pix); err != nil {
		log.Printf("[Sink] %s: write failed, respawning encoder: %v", s.streamID, err)
		s.teardownLocked()
		metrics.SinkRestarts.WithLabelValues(s.streamID).Inc()
		return fmt.Errorf("sink write %s: %w", s.streamID, err)
	}
	return nil
}

// Close stops the encoder subprocess.
func (s *Sink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardownLocked()
}

func (s *Sink) spawnLocked() error {
	cmd := exec.Command("ffmpeg",
		"-hide_banner", "-loglevel", "error",
		"-f", "rawvideo",
		"-pix_fmt", "bgr24",
		"-s", fmt.Sprintf("%dx%d", s.w, s.h),
		"-r", strconv.Itoa(30),
		"-i", "-",
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-tune", "zerolatency",
		"-pix_fmt", "yuv420p",
		"-f", "flv",
		s.url,
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("sink %s: stdin pipe: %w", s.streamID, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("sink %s: start encoder: %w", s.streamID, err)
	}
	s.cmd = cmd
	s.stdin = stdin
	log.Printf("[Sink] %s: encoder started, publishing to %s", s.streamID, s.url)
	return nil
}

func (s *Sink) teardownLocked() {
	if s.stdin != nil {
		s.stdin.Close()
		s.stdin = nil
	}
	if s.cmd != nil {
		if s.cmd.Process != nil {
			s.cmd.Process.Kill()
		}
		s.cmd.Wait()
		s.cmd = nil
	}
}
