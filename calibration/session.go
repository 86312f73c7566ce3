package calibration

import (
	"context"
	"image"
	"sync"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/google/uuid"
	"go.uber.org/atomic"

	"go.viam.com/camcalib/logging"
	"go.viam.com/camcalib/rimage/detection/chessboard"
)

// Session holds the calibration of one camera. Solves are serialized; the current model is replaced
// atomically by every successful solve, so readers never see a partial model and a failed solve keeps the
// previous one.
type Session struct {
	id       string
	cfg      Config
	template []r3.Vector
	logger   logging.Logger

	solveMu sync.Mutex
	current atomic.Pointer[Model]
	solves  atomic.Int64
}

// NewSession validates cfg and returns an uncalibrated session.
func NewSession(cfg Config, logger logging.Logger) (*Session, error) {
	if err := cfg.Validate("session"); err != nil {
		return nil, err
	}
	cfg = cfg.WithDefaults()
	flags, err := NewFlagSet(cfg.Flags...)
	if err != nil {
		return nil, NewInputError("%v", err)
	}
	cfg.Flags = flags
	id := uuid.NewString()
	if logger == nil {
		logger = logging.NewBlankLogger("calibration")
	}
	s := &Session{
		id:       id,
		cfg:      cfg,
		template: cfg.PatternSpec.ObjectPoints(),
		logger:   logger.Sublogger(id),
	}
	s.logger.Debugw("session created", "pattern", cfg.PatternSpec.String(), "flags", flags.String())
	return s, nil
}

// ID uniquely identifies the session.
func (s *Session) ID() string {
	return s.id
}

// Config returns the session configuration, with defaults filled in.
func (s *Session) Config() Config {
	return s.cfg
}

// Template returns the target points shared by every view.
func (s *Session) Template() []r3.Vector {
	return s.template
}

// Detect finds the board in every image, in parallel, keeping the order of imgs.
func (s *Session) Detect(ctx context.Context, imgs []image.Image) ([]chessboard.Result, error) {
	if len(imgs) == 0 {
		return nil, NewInputError("no images given")
	}
	results, err := chessboard.FindChessboardBatch(ctx, imgs, s.cfg.PatternSize(), s.cfg.Detection)
	if err != nil {
		return nil, err
	}
	for i, res := range results {
		if !res.Found {
			s.logger.Debugw("pattern not found", "image", i)
		}
	}
	return results, nil
}

// Preflight reports, for every image, whether the whole board is visible.
func (s *Session) Preflight(ctx context.Context, imgs []image.Image) ([]bool, error) {
	results, err := s.Detect(ctx, imgs)
	if err != nil {
		return nil, err
	}
	valid := make([]bool, len(results))
	for i, res := range results {
		valid[i] = res.Found
	}
	return valid, nil
}

// Calibrate detects the board in imgs, fits a model to the views where it was found and installs it as the
// current model. On failure the current model is left untouched.
func (s *Session) Calibrate(ctx context.Context, imgs []image.Image) (*Model, ReprojectionReport, error) {
	s.solveMu.Lock()
	defer s.solveMu.Unlock()

	results, err := s.Detect(ctx, imgs)
	if err != nil {
		return nil, ReprojectionReport{}, err
	}
	sizes := make([]image.Point, len(imgs))
	corners := make([][]r2.Point, len(imgs))
	for i, res := range results {
		if imgs[i] != nil {
			sizes[i] = imgs[i].Bounds().Size()
		}
		if res.Found {
			corners[i] = res.Corners
		}
	}

	model, err := Calibrate(ctx, sizes, corners, s.template, SolverOptions{
		Flags:         s.cfg.Flags,
		MinViews:      s.cfg.MinViews,
		Epsilon:       s.cfg.Solver.Epsilon,
		MaxIterations: s.cfg.Solver.MaxIterations,
		MaxCondition:  s.cfg.Solver.MaxCondition,
		Logger:        s.logger,
	})
	if err != nil {
		s.logger.Warnw("calibration failed", "error", err)
		return nil, ReprojectionReport{}, err
	}
	report, err := Evaluate(model, corners, s.template)
	if err != nil {
		return nil, ReprojectionReport{}, err
	}
	s.current.Store(model)
	s.solves.Inc()
	s.logger.Infow("installed calibration", "rms", model.RMS, "mean_error", report.Mean,
		"views", len(model.Poses), "solve", s.solves.Load())
	return model, report, nil
}

// Model returns the current model, if any.
func (s *Session) Model() (*Model, bool) {
	m := s.current.Load()
	return m, m != nil
}

// Export serializes the current model.
func (s *Session) Export() ([]byte, error) {
	m := s.current.Load()
	if m == nil {
		return nil, ErrNotCalibrated
	}
	return Encode(m)
}

// Undistort removes the lens distortion of img with the current model and the session alpha.
func (s *Session) Undistort(img image.Image) (image.Image, error) {
	m := s.current.Load()
	if m == nil {
		return nil, ErrNotCalibrated
	}
	return m.UndistortImage(img, *s.cfg.Alpha)
}

// Close clears the current model.
func (s *Session) Close() error {
	s.solveMu.Lock()
	defer s.solveMu.Unlock()
	s.current.Store(nil)
	s.logger.Debug("session closed")
	return nil
}
