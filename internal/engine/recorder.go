package engine

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/technosupport/ts-safety/internal/data"
	"github.com/technosupport/ts-safety/internal/frame"
	"github.com/technosupport/ts-safety/internal/metrics"
	"github.com/technosupport/ts-safety/internal/notify"
)

const persistTimeout = 5 * time.Second

// ClipWriter receives the frames of one clip.
type ClipWriter interface {
	Write(f *frame.Frame) error
	Close() error
}

// ClipWriterFactory opens a writer for a clip file path.
type ClipWriterFactory func(path string, w, h int) (ClipWriter, error)

// Notices receives recorded-event notifications. notify.Notifier
// implements it.
type Notices interface {
	EventRecorded(notice notify.EventNotice)
}

// RecorderConfig parameterizes one stream's recorder.
type RecorderConfig struct {
	StreamID       string
	Model          data.ModelName
	Location       string
	StaticDir      string
	Width, Height  int
	FrameInterval  int
	RatioThreshold float64
	Cooldown       time.Duration
	Duration       time.Duration
}

// Recorder decides when a persistent unsafe condition warrants a clip and
// manages the single active recording for its stream. Gating runs every
// FrameInterval frames: the interval's unsafe ratio must reach the
// threshold and the cooldown since the previous event must have passed.
type Recorder struct {
	cfg     RecorderConfig
	stats   *Stats
	events  data.EventRepository
	notices Notices
	newClip ClipWriterFactory

	// Single-consumer: only the processing thread calls Observe, so the
	// recorder needs no lock of its own beyond what Stats provides.
	recording   bool
	recordStart time.Time
	clip        ClipWriter
	videoName   string
	reasons     map[string]bool
}

func NewRecorder(cfg RecorderConfig, stats *Stats, events data.EventRepository, notices Notices, newClip ClipWriterFactory) *Recorder {
	if newClip == nil {
		newClip = newFFmpegClip
	}
	return &Recorder{
		cfg:     cfg,
		stats:   stats,
		events:  events,
		notices: notices,
		newClip: newClip,
		reasons: make(map[string]bool),
	}
}

// Recording reports whether a clip is currently being written.
func (r *Recorder) Recording() bool { return r.recording }

// Observe consumes one processed frame. Stats.RecordFrame must already
// have been called for it.
func (r *Recorder) Observe(f *frame.Frame, unsafe bool, reasons []string) {
	now := time.Now()

	if r.recording {
		if err := r.clip.Write(f); err != nil {
			log.Printf("[Recorder] %s: clip write failed, aborting: %v", r.cfg.StreamID, err)
			r.closeClip()
		} else if now.Sub(r.recordStart) >= r.cfg.Duration {
			log.Printf("[Recorder] %s: clip complete (%s)", r.cfg.StreamID, r.videoName)
			r.closeClip()
		}
	}

	if unsafe {
		for _, reason := range reasons {
			r.reasons[reason] = true
		}
	}

	if r.stats.IntervalFrames() < r.cfg.FrameInterval {
		return
	}

	unsafeCount := r.stats.CloseInterval()
	// Ratio uses the fixed interval divisor, not frames actually seen.
	ratio := float64(unsafeCount) / float64(r.cfg.FrameInterval)
	metrics.UnsafeRatio.WithLabelValues(r.cfg.StreamID).Set(ratio)

	intervalReasons := r.takeReasons()
	if r.recording || ratio < r.cfg.RatioThreshold {
		return
	}
	if now.Sub(r.stats.LastEventTime()) < r.cfg.Cooldown {
		log.Printf("[Recorder] %s: unsafe ratio %.2f but still in cooldown", r.cfg.StreamID, ratio)
		return
	}

	r.startClip(now, ratio, intervalReasons)
}

func (r *Recorder) startClip(now time.Time, ratio float64, reasons []string) {
	r.videoName = fmt.Sprintf("video_%s_%d.mp4", r.cfg.Model, now.Unix())
	dir := filepath.Join(r.cfg.StaticDir, r.cfg.StreamID, "unsafe")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Printf("[Recorder] %s: create clip dir: %v", r.cfg.StreamID, err)
		return
	}

	clip, err := r.newClip(filepath.Join(dir, r.videoName), r.cfg.Width, r.cfg.Height)
	if err != nil {
		log.Printf("[Recorder] %s: open clip writer: %v", r.cfg.StreamID, err)
		return
	}

	r.clip = clip
	r.recording = true
	r.recordStart = now
	r.stats.MarkEvent(now)
	metrics.RecordingsStarted.WithLabelValues(r.cfg.StreamID).Inc()
	log.Printf("[Recorder] %s: recording started, ratio %.2f, reasons %v", r.cfg.StreamID, ratio, reasons)

	event := &data.Event{
		ID:        uuid.New(),
		StreamID:  r.cfg.StreamID,
		ModelName: r.cfg.Model,
		Timestamp: now,
		Reasons:   reasons,
		VideoName: r.videoName,
	}
	go r.persistAndNotify(event)
}

// persistAndNotify runs off the processing thread; failure to persist or
// notify never interrupts the recording.
func (r *Recorder) persistAndNotify(event *data.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := r.events.Create(ctx, event); err != nil {
		log.Printf("[Recorder] %s: persist event: %v", r.cfg.StreamID, err)
	}
	if r.notices != nil {
		r.notices.EventRecorded(notify.EventNotice{
			EventID:   event.ID.String(),
			StreamID:  event.StreamID,
			ModelName: string(event.ModelName),
			Location:  r.cfg.Location,
			Reasons:   event.Reasons,
			VideoName: event.VideoName,
			Timestamp: event.Timestamp,
		})
	}
}

// Abort stops any active recording. Called on stream stop.
func (r *Recorder) Abort() {
	if r.recording {
		r.closeClip()
	}
}

func (r *Recorder) closeClip() {
	if r.clip != nil {
		if err := r.clip.Close(); err != nil {
			log.Printf("[Recorder] %s: close clip: %v", r.cfg.StreamID, err)
		}
	}
	r.clip = nil
	r.recording = false
}

func (r *Recorder) takeReasons() []string {
	out := make([]string, 0, len(r.reasons))
	for reason := range r.reasons {
		out = append(out, reason)
	}
	r.reasons = make(map[string]bool)
	return out
}

// ffmpegClip encodes raw BGR frames into an MP4 file.
type ffmpegClip struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

func newFFmpegClip(path string, w, h int) (ClipWriter, error) {
	cmd := exec.Command("ffmpeg",
		"-hide_banner", "-loglevel", "error",
		"-f", "rawvideo",
		"-pix_fmt", "bgr24",
		"-s", fmt.Sprintf("%dx%d", w, h),
		"-r", "30",
		"-i", "-",
		"-c:v", "libx264",
		"-preset", "fast",
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		"-y", path,
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("clip %s: stdin pipe: %w", path, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("clip %s: start encoder: %w", path, err)
	}
	return &ffmpegClip{cmd: cmd, stdin: stdin}, nil
}

func (c *ffmpegClip) Write(f *frame.Frame) error {
	_, err := c.stdin.Write(f.Pix)
	return err
}

func (c *ffmpegClip) Close() error {
	c.stdin.Close()
	return c.cmd.Wait()
}
