package detect

import (
	"context"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/technosupport/ts-safety/internal/data"
	"github.com/technosupport/ts-safety/internal/frame"
	"github.com/technosupport/ts-safety/internal/metrics"
)

const (
	inputSize    = 640 // network input, square letterbox
	nmsIoU       = 0.45
	maxDetPerRun = 100
)

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

// ONNXProvider loads one ONNX session per model from a model directory
// laid out as {dir}/{model}.onnx. Sessions are shared across streams;
// Run is serialized per session by a mutex because the engine mutates the
// input tensor in place.
type ONNXProvider struct {
	dir        string
	confidence float64

	mu       sync.Mutex
	sessions map[data.ModelName]*onnxDetector
}

func NewONNXProvider(modelDir string, confidence float64) (*ONNXProvider, error) {
	ortInitOnce.Do(func() {
		if lib := os.Getenv("ONNXRUNTIME_LIB"); lib != "" {
			ort.SetSharedLibraryPath(lib)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return nil, fmt.Errorf("onnxruntime init: %w", ortInitErr)
	}
	return &ONNXProvider{
		dir:        modelDir,
		confidence: confidence,
		sessions:   make(map[data.ModelName]*onnxDetector),
	}, nil
}

// Detector returns a detector for the model, loading the session on first
// use. The session is shared across streams; tracked models get their own
// ID tracker per call so track IDs never cross streams.
func (p *ONNXProvider) Detector(model data.ModelName) (Detector, error) {
	d, err := p.session(model)
	if err != nil {
		return nil, err
	}
	if Tracked(model) {
		return newTrackedDetector(d), nil
	}
	return d, nil
}

func (p *ONNXProvider) session(model data.ModelName) (*onnxDetector, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if d, ok := p.sessions[model]; ok {
		return d, nil
	}

	classes := Classes(model)
	if classes == nil {
		return nil, fmt.Errorf("no class map for model %s", model)
	}

	path := filepath.Join(p.dir, fmt.Sprintf("%s.onnx", model))
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("model file %s: %w", path, err)
	}

	inputShape := ort.NewShape(1, 3, inputSize, inputSize)
	input, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("input tensor: %w", err)
	}

	// YOLO-style head: [1, 4+nc, anchors].
	outputShape := ort.NewShape(1, int64(4+len(classes)), 8400)
	output, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(path,
		[]string{"images"}, []string{"output0"},
		[]ort.ArbitraryTensor{input}, []ort.ArbitraryTensor{output}, nil)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("load %s: %w", path, err)
	}

	log.Printf("[Detect] loaded model %s from %s (%d classes)", model, path, len(classes))

	d := &onnxDetector{
		model:      model,
		classes:    classes,
		confidence: p.confidence,
		session:    session,
		input:      input,
		output:     output,
	}
	p.sessions[model] = d
	return d, nil
}

// Close destroys every loaded session.
func (p *ONNXProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, d := range p.sessions {
		_ = d.Close()
	}
	p.sessions = make(map[data.ModelName]*onnxDetector)
	return nil
}

type onnxDetector struct {
	model      data.ModelName
	classes    []string
	confidence float64

	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	closed  bool
}

func (d *onnxDetector) Model() data.ModelName { return d.model }

func (d *onnxDetector) Detect(ctx context.Context, f *frame.Frame) ([]Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, fmt.Errorf("detector for %s is closed", d.model)
	}

	start := time.Now()
	scale, padX, padY := letterbox(f, d.input.GetData())

	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("inference: %w", err)
	}
	metrics.InferenceLatency.WithLabelValues(string(d.model)).
		Observe(float64(time.Since(start).Microseconds()) / 1000.0)

	return d.decode(d.output.GetData(), scale, padX, padY, f.W, f.H), nil
}

func (d *onnxDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.session.Destroy()
	d.input.Destroy()
	d.output.Destroy()
	return nil
}

// letterbox scales the BGR frame into the square network input with
// aspect-preserving padding, writing normalized CHW RGB floats.
func letterbox(f *frame.Frame, dst []float32) (scale, padX, padY float64) {
	scale = math.Min(float64(inputSize)/float64(f.W), float64(inputSize)/float64(f.H))
	newW := int(float64(f.W) * scale)
	newH := int(float64(f.H) * scale)
	padX = float64(inputSize-newW) / 2
	padY = float64(inputSize-newH) / 2

	for i := range dst {
		dst[i] = 114.0 / 255.0 // letterbox gray
	}

	plane := inputSize * inputSize
	x0, y0 := int(padX), int(padY)
	for y := 0; y < newH; y++ {
		srcY := int(float64(y) / scale)
		if srcY >= f.H {
			srcY = f.H - 1
		}
		rowBase := srcY * f.W * 3
		dstRow := (y0 + y) * inputSize
		for x := 0; x < newW; x++ {
			srcX := int(float64(x) / scale)
			if srcX >= f.W {
				srcX = f.W - 1
			}
			i := rowBase + srcX*3
			di := dstRow + x0 + x
			dst[di] = float32(f.Pix[i+2]) / 255.0         // R
			dst[plane+di] = float32(f.Pix[i+1]) / 255.0   // G
			dst[2*plane+di] = float32(f.Pix[i]) / 255.0   // B
		}
	}
	return scale, padX, padY
}

// decode parses the [1, 4+nc, anchors] head into thresholded, NMS-filtered
// detections mapped back to frame coordinates.
func (d *onnxDetector) decode(out []float32, scale, padX, padY float64, w, h int) []Detection {
	nc := len(d.classes)
	anchors := len(out) / (4 + nc)
	var cands []Detection

	for a := 0; a < anchors; a++ {
		bestCls, bestScore := -1, float32(0)
		for c := 0; c < nc; c++ {
			if s := out[(4+c)*anchors+a]; s > bestScore {
				bestScore = s
				bestCls = c
			}
		}
		if bestCls < 0 || float64(bestScore) < d.confidence {
			continue
		}

		cx := float64(out[0*anchors+a])
		cy := float64(out[1*anchors+a])
		bw := float64(out[2*anchors+a])
		bh := float64(out[3*anchors+a])

		box := BBox{
			X1: (cx - bw/2 - padX) / scale,
			Y1: (cy - bh/2 - padY) / scale,
			X2: (cx + bw/2 - padX) / scale,
			Y2: (cy + bh/2 - padY) / scale,
		}
		box.X1 = clampf(box.X1, 0, float64(w))
		box.Y1 = clampf(box.Y1, 0, float64(h))
		box.X2 = clampf(box.X2, 0, float64(w))
		box.Y2 = clampf(box.Y2, 0, float64(h))
		if box.Area() <= 0 {
			continue
		}

		cands = append(cands, Detection{
			Label:      d.classes[bestCls],
			Confidence: float64(bestScore),
			Box:        box,
		})
	}

	return nms(cands)
}

// nms runs greedy per-class non-maximum suppression.
func nms(dets []Detection) []Detection {
	sort.Slice(dets, func(i, j int) bool { return dets[i].Confidence > dets[j].Confidence })

	var keep []Detection
	for _, d := range dets {
		ok := true
		for _, k := range keep {
			if k.Label == d.Label && k.Box.IoU(d.Box) > nmsIoU {
				ok = false
				break
			}
		}
		if ok {
			keep = append(keep, d)
			if len(keep) >= maxDetPerRun {
				break
			}
		}
	}
	return keep
}

func clampf(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
