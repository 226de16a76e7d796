package motion

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"

	"github.com/ciptacoding/nvr-core/internal/export"
	"github.com/ciptacoding/nvr-core/internal/geom"
	"github.com/ciptacoding/nvr-core/internal/logx"
	"github.com/ciptacoding/nvr-core/internal/segment"
)

// FrameSource is the C1 decoded-BGR tap the analyser pulls in blocking
// mode. Pull returns ok=false when no sample is currently available (the
// worker then sleeps 5ms before retrying).
type FrameSource interface {
	Pull() (gocv.Mat, bool)
}

// FlowEstimator computes tracked-feature displacements between two grey
// frames. The production implementation wraps gocv's
// GoodFeaturesToTrack + CalcOpticalFlowPyrLK; swappable so higher layers
// can be exercised without a real video backend.
type FlowEstimator interface {
	Estimate(prevGray, currGray gocv.Mat) ([]Feature, error)
}

type opticalFlowEstimator struct{}

func (opticalFlowEstimator) Estimate(prevGray, currGray gocv.Mat) ([]Feature, error) {
	prevPts := gocv.NewMat()
	defer prevPts.Close()
	gocv.GoodFeaturesToTrack(prevGray, &prevPts, 100, 0.01, 10)
	if prevPts.Rows() == 0 {
		return nil, nil
	}

	nextPts := gocv.NewMat()
	status := gocv.NewMat()
	errOut := gocv.NewMat()
	defer nextPts.Close()
	defer status.Close()
	defer errOut.Close()
	gocv.CalcOpticalFlowPyrLK(prevGray, currGray, prevPts, &nextPts, &status, &errOut)

	features := make([]Feature, 0, prevPts.Rows())
	for i := 0; i < prevPts.Rows(); i++ {
		if status.GetUCharAt(i, 0) == 0 {
			continue // tracking failed for this feature
		}
		px, py := prevPts.GetFloatAt(i, 0), prevPts.GetFloatAt(i, 1)
		cx, cy := nextPts.GetFloatAt(i, 0), nextPts.GetFloatAt(i, 1)
		d := math.Hypot(float64(cx-px), float64(cy-py))
		features = append(features, Feature{
			Prev:         geom.Point{X: float64(px), Y: float64(py)},
			Curr:         geom.Point{X: float64(cx), Y: float64(cy)},
			Displacement: d,
		})
	}
	return features, nil
}

// RegionProvider returns the camera's current motion regions; it is a
// function rather than a static slice because region CRUD (C6) can mutate
// the set while the analyser is running.
type RegionProvider func() []geom.Region

// Analyser is the per-camera Motion Analyser (C3).
type Analyser struct {
	camName string
	params  Params
	regions RegionProvider

	frameW, frameH int // motion_frame_size; (0,0) means "use scale only"
	frameScale     float64
	arrowScale     float64
	arrowThickness int

	estimator FlowEstimator
	segWorker *segment.Worker // nil when segment=false
	exporter  *export.Exporter
	outputDir string
	outputExt string

	state State

	mu            sync.Mutex
	lastFrameJPEG []byte
	prevGray      gocv.Mat
	havePrev      bool

	running             int32
	stopCh              chan struct{}
	wg                  sync.WaitGroup
	consecutiveFailures int

	// OnWorkerFailed is invoked after every three consecutive
	// frame-processing failures (the count restarts after each call), so the
	// registry can schedule a pipeline rebuild.
	OnWorkerFailed func()

	log *logx.Logger
}

// Config collects the per-camera construction parameters for an Analyser.
type Config struct {
	CameraName     string
	Params         Params
	Regions        RegionProvider
	FrameW, FrameH int
	FrameScale     float64
	ArrowScale     float64
	ArrowThickness int
	SegmentWorker  *segment.Worker
	Exporter       *export.Exporter
	OutputDir      string
	OutputExt      string
}

// New constructs an Analyser using the production gocv-backed FlowEstimator.
func New(cfg Config) *Analyser {
	return &Analyser{
		camName:        cfg.CameraName,
		params:         cfg.Params,
		regions:        cfg.Regions,
		frameW:         cfg.FrameW,
		frameH:         cfg.FrameH,
		frameScale:     cfg.FrameScale,
		arrowScale:     cfg.ArrowScale,
		arrowThickness: cfg.ArrowThickness,
		estimator:      opticalFlowEstimator{},
		segWorker:      cfg.SegmentWorker,
		exporter:       cfg.Exporter,
		outputDir:      cfg.OutputDir,
		outputExt:      cfg.OutputExt,
		log:            logx.New("Motion"),
	}
}

// Start begins the dedicated worker pulling from src in blocking mode.
func (a *Analyser) Start(src FrameSource) {
	if !atomic.CompareAndSwapInt32(&a.running, 0, 1) {
		return
	}
	a.stopCh = make(chan struct{})
	a.wg.Add(1)
	go a.loop(src)
}

// Stop flips the running flag and joins the worker.
func (a *Analyser) Stop() {
	if !atomic.CompareAndSwapInt32(&a.running, 1, 0) {
		return
	}
	close(a.stopCh)
	a.wg.Wait()
	a.mu.Lock()
	if a.havePrev {
		a.prevGray.Close()
		a.havePrev = false
	}
	a.mu.Unlock()
}

func (a *Analyser) loop(src FrameSource) {
	defer a.wg.Done()
	for {
		select {
		case <-a.stopCh:
			return
		default:
		}
		frame, ok := src.Pull()
		if !ok {
			time.Sleep(5 * time.Millisecond)
			continue
		}
		a.processFrame(frame)
		frame.Close()
	}
}

// prepareFrame resizes to motion_frame_size if set, then scales, then
// converts to grey.
func (a *Analyser) prepareFrame(bgr gocv.Mat) (gray gocv.Mat) {
	working := bgr
	owned := false

	if a.frameW > 0 && a.frameH > 0 {
		resized := gocv.NewMat()
		gocv.Resize(working, &resized, image.Pt(a.frameW, a.frameH), 0, 0, gocv.InterpolationLinear)
		if owned {
			working.Close()
		}
		working = resized
		owned = true
	}
	if a.frameScale != 1.0 && a.frameScale > 0 {
		scaled := gocv.NewMat()
		gocv.Resize(working, &scaled, image.Point{}, a.frameScale, a.frameScale, gocv.InterpolationLinear)
		if owned {
			working.Close()
		}
		working = scaled
		owned = true
	}

	gray = gocv.NewMat()
	gocv.CvtColor(working, &gray, gocv.ColorBGRToGray)
	if owned {
		working.Close()
	}
	return gray
}

// processFrame runs one tick of the optical-flow detection algorithm and
// drives the segment recorder / exporter accordingly.
func (a *Analyser) processFrame(bgr gocv.Mat) {
	gray := a.prepareFrame(bgr)

	a.mu.Lock()
	havePrev := a.havePrev
	var prev gocv.Mat
	if havePrev {
		prev = a.prevGray
	}
	a.mu.Unlock()

	var avgMotion float64
	var kept []Feature
	if havePrev {
		features, err := a.estimator.Estimate(prev, gray)
		if err != nil {
			a.onFrameFailure(err)
			gray.Close()
			return
		}
		a.consecutiveFailures = 0
		kept = FilterByRegions(features, a.regions())
		avgMotion = AverageMotion(kept, a.params.NoiseThreshold)
	}

	now := time.Now()
	wasDetected := a.state.MotionDetected(now, a.params)
	detected := a.state.Observe(avgMotion, now, a.params)

	a.annotate(bgr, kept, avgMotion)
	a.driveSegment(wasDetected, detected)

	a.mu.Lock()
	if a.havePrev {
		a.prevGray.Close()
	}
	a.prevGray = gray
	a.havePrev = true
	a.mu.Unlock()
}

func (a *Analyser) onFrameFailure(err error) {
	a.consecutiveFailures++
	a.log.Printf("%s: frame processing error: %v", a.camName, err)
	if a.consecutiveFailures >= 3 && a.OnWorkerFailed != nil {
		a.OnWorkerFailed()
		a.consecutiveFailures = 0
	}
}

// driveSegment starts or finalises the segment recorder as motion state
// transitions.
func (a *Analyser) driveSegment(wasDetected, detected bool) {
	if a.segWorker == nil {
		return
	}
	if detected {
		a.segWorker.SaveCurrentSegment()
	}
	if wasDetected && !detected {
		a.segWorker.SetState(segment.FinishRequested)
	}
	if !wasDetected && detected && a.segWorker.GetState() == segment.FinishRequested {
		a.segWorker.SetState(segment.Working)
	}
	if a.segWorker.GetState() == segment.Finalized {
		retained := a.segWorker.DrainMotionSegments()
		a.segWorker.SetState(segment.Working)
		if len(retained) > 0 && a.exporter != nil {
			a.exporter.Submit(export.Request{
				CameraName:   a.camName,
				SegmentPaths: retained,
				OutputDir:    a.outputDir,
				Filename:     fmt.Sprintf("motion-%s", time.Now().Format("2006-01-02_15-04-05")),
			})
		}
	}
}

// annotate draws region outlines, feature arrows, and an overlay string
// onto bgr, then JPEG-encodes it as the frame exposed via HTTP
// /motion_frame.
func (a *Analyser) annotate(bgr gocv.Mat, features []Feature, avgMotion float64) {
	annotated := bgr.Clone()
	defer annotated.Close()

	blue := color.RGBA{B: 255, A: 255}
	for _, r := range a.regions() {
		corners := r.Corners()
		for i := 0; i < 4; i++ {
			a0 := corners[i]
			b0 := corners[(i+1)%4]
			gocv.Line(&annotated, image.Pt(int(a0.X), int(a0.Y)), image.Pt(int(b0.X), int(b0.Y)), blue, 1)
		}
	}

	green := color.RGBA{G: 255, A: 255}
	for _, f := range features {
		dx := (f.Curr.X - f.Prev.X) * a.arrowScale
		dy := (f.Curr.Y - f.Prev.Y) * a.arrowScale
		end := image.Pt(int(f.Prev.X+dx), int(f.Prev.Y+dy))
		gocv.ArrowedLine(&annotated, image.Pt(int(f.Prev.X), int(f.Prev.Y)), end, green, a.arrowThickness)
	}

	gocv.PutText(&annotated, fmt.Sprintf("Motion: %.2f", avgMotion), image.Pt(8, 20),
		gocv.FontHersheyPlain, 1.2, color.RGBA{R: 255, G: 255, B: 255, A: 255}, 1)

	buf, err := gocv.IMEncode(".jpg", annotated)
	if err != nil {
		a.log.Printf("%s: jpeg encode: %v", a.camName, err)
		return
	}
	defer buf.Close()

	a.mu.Lock()
	a.lastFrameJPEG = append([]byte(nil), buf.GetBytes()...)
	a.mu.Unlock()
}

// LastFrameJPEG returns the most recent annotated frame as JPEG bytes, for
// HTTP GET /motion_frame. ok is false until the first frame has been
// processed.
func (a *Analyser) LastFrameJPEG() (data []byte, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.lastFrameJPEG == nil {
		return nil, false
	}
	return a.lastFrameJPEG, true
}
