// Package pipeline turns a camera frame into one attendance outcome per
// detected face: extract, identify, suppress repeats, then drive the
// attendance state machine.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/kozaktomas/facegate/internal/attendance"
	"github.com/kozaktomas/facegate/internal/cooldown"
	"github.com/kozaktomas/facegate/internal/database"
	"github.com/kozaktomas/facegate/internal/extractor"
	"github.com/kozaktomas/facegate/internal/facestore"
	"github.com/kozaktomas/facegate/internal/logger"
	"github.com/kozaktomas/facegate/internal/matcher"
)

// Extractor finds faces in an image.
type Extractor interface {
	Extract(ctx context.Context, image []byte) ([]extractor.Face, error)
}

// Attendance applies an accepted detection.
type Attendance interface {
	Detect(ctx context.Context, identity string, now time.Time) (attendance.Outcome, error)
}

// Enroller persists a new template and schedules it for the remote.
type Enroller interface {
	Enroll(ctx context.Context, t database.FaceTemplate) error
}

// FaceResult is the outcome for one face of a frame.
type FaceResult struct {
	Index    int                `json:"index"`
	BBox     []float64          `json:"bbox,omitempty"`
	DetScore float64            `json:"det_score"`
	Match    *matcher.Match     `json:"match,omitempty"`
	Outcome  attendance.Outcome `json:"outcome"`
	Error    string             `json:"error,omitempty"`
}

// Deps are the collaborators of a Pipeline. Faces and Enroller are only
// needed for enrollment.
type Deps struct {
	Extractor  Extractor
	Matcher    *matcher.Matcher
	Cooldown   *cooldown.Ledger
	Attendance Attendance
	Faces      *facestore.Store
	Enroller   Enroller
	Logger     *logger.Logger
}

// Pipeline processes frames. It is safe for concurrent use by several
// camera streams.
type Pipeline struct {
	extractor  Extractor
	matcher    *matcher.Matcher
	cooldown   *cooldown.Ledger
	attendance Attendance
	faces      *facestore.Store
	enroller   Enroller
	log        *logger.Logger
}

// New validates deps and builds a pipeline.
func New(d Deps) (*Pipeline, error) {
	if d.Extractor == nil || d.Matcher == nil || d.Cooldown == nil || d.Attendance == nil {
		return nil, errors.New("pipeline needs an extractor, matcher, cooldown ledger and attendance machine")
	}
	log := d.Logger
	if log == nil {
		log = logger.Component("pipeline")
	}
	return &Pipeline{
		extractor:  d.Extractor,
		matcher:    d.Matcher,
		cooldown:   d.Cooldown,
		attendance: d.Attendance,
		faces:      d.Faces,
		enroller:   d.Enroller,
		log:        log,
	}, nil
}

// Process handles one frame. An error is returned only when the frame could
// not be analysed at all; per-face failures are reported in the results.
func (p *Pipeline) Process(ctx context.Context, image []byte, now time.Time) ([]FaceResult, error) {
	faces, err := p.extractor.Extract(ctx, image)
	if err != nil {
		return nil, fmt.Errorf("extract faces: %w", err)
	}
	results := make([]FaceResult, 0, len(faces))
	for i, f := range faces {
		res := p.ProcessFace(ctx, f.Embedding, now)
		res.Index = i
		res.BBox = f.BBox
		res.DetScore = f.DetScore
		results = append(results, res)
	}
	return results, nil
}

// ProcessFace handles one embedding. Panics are contained to the face.
func (p *Pipeline) ProcessFace(ctx context.Context, embedding []float32, now time.Time) (res FaceResult) {
	identity := ""
	reserved := false
	defer func() {
		if r := recover(); r != nil {
			if reserved {
				p.cooldown.Abort(identity)
			}
			p.log.Error().Interface("panic", r).Str("identity", identity).Bytes("stack", debug.Stack()).Msg("face processing panicked")
			res.Outcome = attendance.Unknown()
			res.Error = fmt.Sprintf("internal error: %v", r)
		}
	}()

	match, ok := p.matcher.Identify(embedding)
	if !ok {
		return FaceResult{Outcome: attendance.Unknown()}
	}
	identity = match.Identity
	res.Match = &match

	if !p.cooldown.Begin(identity, now) {
		res.Outcome = attendance.Blocked(identity, match.DisplayName, attendance.ReasonCooldown, "recently recognized")
		res.Outcome.Remaining = p.cooldown.Remaining(identity, now)
		return res
	}
	reserved = true

	out, err := p.attendance.Detect(ctx, identity, now)
	if err != nil {
		p.cooldown.Abort(identity)
		reserved = false
		p.log.Error().Err(err).Str("identity", identity).Msg("attendance transition failed")
		res.Outcome = attendance.Blocked(identity, match.DisplayName, "", "attendance could not be recorded")
		res.Error = err.Error()
		return res
	}
	p.cooldown.Commit(identity, now)
	reserved = false

	if out.DisplayName == "" {
		out.DisplayName = match.DisplayName
	}
	res.Outcome = out
	p.log.Debug().
		Str("identity", identity).
		Float64("distance", match.Distance).
		Float64("tolerance", match.Tolerance).
		Stringer("outcome", out.Kind).
		Msg("face processed")
	return res
}
