// Package analyzer turns one frame of facial landmarks into an attention
// assessment, debouncing transient conditions over consecutive frames.
package analyzer

import (
	"fmt"
	"log"
	"math"
	"sync"

	"github.com/SoarinFerret/FocusWarden/internal/geometry"
	"github.com/SoarinFerret/FocusWarden/internal/landmarks"
)

// Eye ratios mapped to 0% and 100% openness.
const (
	minEyeRatio = 0.1
	maxEyeRatio = 0.5
)

// Analyzer scores frames. Its counters live for one viewing session.
type Analyzer struct {
	mu  sync.Mutex
	cfg Config

	eyesClosedCount int
	mouthOpenCount  int
	asymmetryCount  int

	last    Assessment
	hasLast bool
}

// New creates an analyzer with cfg.
func New(cfg Config) *Analyzer {
	if cfg.ConsecutiveDetectionsRequired < 1 {
		cfg.ConsecutiveDetectionsRequired = 1
	}
	if cfg.Debug {
		log.Printf("DEBUG: analyzer initialized with %+v", cfg)
	}
	return &Analyzer{cfg: cfg}
}

// Config returns the current thresholds.
func (a *Analyzer) Config() Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// UpdateConfig replaces the thresholds. Counters are kept.
func (a *Analyzer) UpdateConfig(cfg Config) {
	if cfg.ConsecutiveDetectionsRequired < 1 {
		cfg.ConsecutiveDetectionsRequired = 1
	}
	a.mu.Lock()
	a.cfg = cfg
	a.mu.Unlock()
	if cfg.Debug {
		log.Printf("DEBUG: analyzer config updated to %+v", cfg)
	}
}

// Reset zeroes the consecutive-frame counters and forgets the last result.
func (a *Analyzer) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.eyesClosedCount = 0
	a.mouthOpenCount = 0
	a.asymmetryCount = 0
	a.last = Assessment{}
	a.hasLast = false
}

// Last returns the most recent successful assessment.
func (a *Analyzer) Last() (Assessment, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last, a.hasLast
}

// Analyze assesses one frame. It never fails: malformed input yields
// Neutral with Details.Error set.
func (a *Analyzer) Analyze(lm landmarks.Landmarks) (res Assessment) {
	if lm == nil {
		return a.reject(ErrLandmarksMissing, 0)
	}
	if f, ok := lm.(*landmarks.FaceLandmarks); ok && f == nil {
		return a.reject(ErrLandmarksMissing, 0)
	}

	points := lm.Points()
	if points == nil {
		return a.reject(ErrPositionsMissing, 0)
	}
	if len(points) != landmarks.Count {
		return a.reject(ErrInvalidLandmarkCount, len(points))
	}

	regions, ok := lm.(landmarks.RegionExtractor)
	if !ok {
		return a.reject(ErrMissingExtractionMethod, 0)
	}

	defer func() {
		if r := recover(); r != nil {
			log.Printf("analyzer: recovered from %v", r)
			res = Neutral(ErrExtractionFailed)
		}
	}()

	f, err := extract(regions)
	if err != nil {
		return a.reject(ErrExtractionFailed, 0)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	m, err := measure(f)
	if err != nil {
		if a.cfg.Debug {
			log.Printf("DEBUG: analyzer measurement failed: %v", err)
		}
		return Neutral(ErrExtractionFailed)
	}

	res = a.assess(m)
	a.last = res
	a.hasLast = true

	if a.cfg.Debug {
		log.Printf("DEBUG: attention=%d eyesClosed=%t (%d/%d) mouthOpen=%t (%d/%d) lookingAway=%t grimace=%t reason=%q",
			res.AttentionScore,
			res.EyesClosed, a.eyesClosedCount, a.cfg.ConsecutiveDetectionsRequired,
			res.MouthOpen, a.mouthOpenCount, a.cfg.ConsecutiveDetectionsRequired,
			res.LookingAway, res.IsGrimacing, res.InattentionReason)
	}
	return res
}

func (a *Analyzer) reject(code string, count int) Assessment {
	if a.Config().Debug {
		log.Printf("DEBUG: analyzer rejected frame: %s", code)
	}
	res := Neutral(code)
	res.Details.Count = count
	return res
}

type face struct {
	leftEye, rightEye, mouth, nose, jaw []geometry.Point
}

func extract(r landmarks.RegionExtractor) (face, error) {
	f := face{
		leftEye:  r.LeftEye(),
		rightEye: r.RightEye(),
		mouth:    r.Mouth(),
		nose:     r.Nose(),
		jaw:      r.JawOutline(),
	}
	// mouth needs both corners (0, 6) and the 3..8 lip span
	if len(f.leftEye) == 0 || len(f.rightEye) == 0 || len(f.mouth) < 9 || len(f.nose) == 0 || len(f.jaw) < 2 {
		return face{}, fmt.Errorf("incomplete facial regions")
	}
	return f, nil
}

// measurement is the frame-level geometry, before debouncing.
type measurement struct {
	leftEyeRatio, rightEyeRatio, eyeRatio float64
	leftEyePct, rightEyePct, eyePct       float64
	mouthRatio, mouthAsymmetry            float64
	faceAsymmetry, faceSymmetryScore      float64
}

func measure(f face) (measurement, error) {
	var m measurement
	var ok bool

	if m.leftEyeRatio, ok = geometry.AspectRatio(f.leftEye); !ok {
		return m, fmt.Errorf("left eye has no width")
	}
	if m.rightEyeRatio, ok = geometry.AspectRatio(f.rightEye); !ok {
		return m, fmt.Errorf("right eye has no width")
	}
	m.eyeRatio = (m.leftEyeRatio + m.rightEyeRatio) / 2
	m.leftEyePct = geometry.Percent(m.leftEyeRatio, minEyeRatio, maxEyeRatio)
	m.rightEyePct = geometry.Percent(m.rightEyeRatio, minEyeRatio, maxEyeRatio)
	m.eyePct = geometry.Percent(m.eyeRatio, minEyeRatio, maxEyeRatio)

	// lip span is the upper lip centre through the lower lip, width is the
	// full mouth contour
	lips := geometry.Bounds(f.mouth[3:9])
	width := geometry.Bounds(f.mouth).Width()
	if width <= 0 {
		return m, fmt.Errorf("mouth has no width")
	}
	m.mouthRatio = lips.Height() / width

	center := f.mouth[3]
	left := geometry.Distance(f.mouth[0], center)
	right := geometry.Distance(f.mouth[6], center)
	m.mouthAsymmetry, _ = geometry.RelativeDifference(left, right)

	half := (len(f.jaw) + 1) / 2
	nose := f.nose[0]
	leftFace := geometry.Distance(nose, geometry.Mean(f.jaw[:half]))
	rightFace := geometry.Distance(nose, geometry.Mean(f.jaw[half:]))
	if m.faceAsymmetry, ok = geometry.RelativeDifference(leftFace, rightFace); !ok {
		return m, fmt.Errorf("degenerate jaw outline")
	}
	m.faceSymmetryScore = geometry.Clamp(100-m.faceAsymmetry*200, 0, 100)

	for _, v := range []float64{m.eyeRatio, m.mouthRatio, m.faceAsymmetry} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return m, fmt.Errorf("non-finite measurement")
		}
	}
	return m, nil
}

// assess updates the counters from m and builds the assessment.
// Callers hold a.mu.
func (a *Analyzer) assess(m measurement) Assessment {
	cfg := a.cfg

	eyesClosed := m.eyeRatio < cfg.EyeClosedThreshold
	mouthOpen := m.mouthRatio > cfg.MouthOpenThreshold
	asymmetric := m.faceAsymmetry > cfg.MouthAsymmetryThreshold

	mouthScore := 100.0
	if mouthOpen {
		mouthScore = 0
	}
	score := m.eyePct*cfg.Weights.EyeOpenness +
		mouthScore*cfg.Weights.MouthNormal +
		m.faceSymmetryScore*cfg.Weights.FaceSymmetry
	score = geometry.Clamp(math.Round(score), 0, 100)

	a.eyesClosedCount = bump(a.eyesClosedCount, eyesClosed)
	a.mouthOpenCount = bump(a.mouthOpenCount, mouthOpen)
	a.asymmetryCount = bump(a.asymmetryCount, asymmetric)

	required := cfg.ConsecutiveDetectionsRequired
	res := Assessment{
		AttentionScore: int(score),
		EyesClosed:     a.eyesClosedCount >= required,
		MouthOpen:      a.mouthOpenCount >= required,
		Asymmetric:     a.asymmetryCount >= required,
		LookingAway:    m.faceAsymmetry > cfg.LookingAwayThreshold,
		Details: Details{
			EyeOpenPercentage:      m.eyePct,
			LeftEyeOpenPercentage:  m.leftEyePct,
			RightEyeOpenPercentage: m.rightEyePct,
			EyeRatio:               m.eyeRatio,
			LeftEyeRatio:           m.leftEyeRatio,
			RightEyeRatio:          m.rightEyeRatio,
			MouthRatio:             m.mouthRatio,
			MouthAsymmetry:         m.mouthAsymmetry,
			FaceAsymmetry:          m.faceAsymmetry,
			FaceSymmetryScore:      m.faceSymmetryScore,
			ConsecutiveEyesClosed:  a.eyesClosedCount,
			ConsecutiveMouthOpen:   a.mouthOpenCount,
			ConsecutiveAsymmetry:   a.asymmetryCount,
		},
	}
	res.IsGrimacing = res.EyesClosed || res.MouthOpen || res.Asymmetric || res.LookingAway

	switch {
	case res.LookingAway:
		res.InattentionReason = ReasonLookingAway
	case res.EyesClosed:
		res.InattentionReason = ReasonEyesClosed
	case res.MouthOpen:
		res.InattentionReason = ReasonMouthOpen
	case res.Asymmetric:
		res.InattentionReason = ReasonGrimaceDetected
	}
	return res
}

func bump(count int, holds bool) int {
	if holds {
		return count + 1
	}
	return 0
}
