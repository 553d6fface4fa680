package analyzer

// Error codes reported in Details.Error when a frame cannot be analyzed.
const (
	ErrLandmarksMissing        = "landmarks_missing"
	ErrPositionsMissing        = "positions_missing"
	ErrInvalidLandmarkCount    = "invalid_landmark_count"
	ErrMissingExtractionMethod = "missing_extraction_methods"
	ErrExtractionFailed        = "extraction_failed"
	// ErrDetectorUnavailable marks the neutral result used while no landmark
	// detector is available.
	ErrDetectorUnavailable = "detector_unavailable"
)

// Inattention reasons, highest priority first.
const (
	ReasonLookingAway     = "looking away"
	ReasonEyesClosed      = "eyes closed too long"
	ReasonMouthOpen       = "inappropriate expression"
	ReasonGrimaceDetected = "grimace detected"
)

// Weights are the linear weights of the composite attention score.
type Weights struct {
	EyeOpenness  float64 `toml:"eye_openness" validate:"gte=0"`
	MouthNormal  float64 `toml:"mouth_normal" validate:"gte=0"`
	FaceSymmetry float64 `toml:"face_symmetry" validate:"gte=0"`
}

// Config holds the analyzer thresholds.
type Config struct {
	// EyeClosedThreshold is the eye height/width ratio below which an eye
	// counts as closed for one frame.
	EyeClosedThreshold float64 `toml:"eye_closed_threshold" validate:"gt=0"`
	// MouthOpenThreshold is the lip height/width ratio above which the mouth
	// counts as open for one frame.
	MouthOpenThreshold float64 `toml:"mouth_open_threshold" validate:"gt=0"`
	// MouthAsymmetryThreshold flags a frame as asymmetric. It is compared
	// against the face asymmetry.
	MouthAsymmetryThreshold float64 `toml:"mouth_asymmetry_threshold" validate:"gt=0"`
	// LookingAwayThreshold is the face asymmetry above which the learner is
	// looking away. Not debounced.
	LookingAwayThreshold float64 `toml:"looking_away_threshold" validate:"gt=0"`
	// AttentionThreshold is informational; it does not gate anything.
	AttentionThreshold int     `toml:"attention_threshold" validate:"gte=0,lte=100"`
	Weights            Weights `toml:"weights"`
	// ConsecutiveDetectionsRequired is the number of frames a condition must
	// hold before it is treated as persistent.
	ConsecutiveDetectionsRequired int  `toml:"consecutive_detections_required" validate:"gte=1"`
	Debug                         bool `toml:"debug"`
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		EyeClosedThreshold:      0.2,
		MouthOpenThreshold:      0.6,
		MouthAsymmetryThreshold: 0.3,
		LookingAwayThreshold:    0.4,
		AttentionThreshold:      70,
		Weights: Weights{
			EyeOpenness:  0.4,
			MouthNormal:  0.2,
			FaceSymmetry: 0.4,
		},
		ConsecutiveDetectionsRequired: 3,
	}
}

// Details carries the diagnostic sub-scores of one assessment.
type Details struct {
	Error string `json:"error,omitempty"`
	Count int    `json:"count,omitempty"`

	EyeOpenPercentage      float64 `json:"eye_open_percentage"`
	LeftEyeOpenPercentage  float64 `json:"left_eye_open_percentage"`
	RightEyeOpenPercentage float64 `json:"right_eye_open_percentage"`
	EyeRatio               float64 `json:"eye_ratio"`
	LeftEyeRatio           float64 `json:"left_eye_ratio"`
	RightEyeRatio          float64 `json:"right_eye_ratio"`
	MouthRatio             float64 `json:"mouth_ratio"`
	MouthAsymmetry         float64 `json:"mouth_asymmetry"`
	FaceAsymmetry          float64 `json:"face_asymmetry"`
	FaceSymmetryScore      float64 `json:"face_symmetry_score"`

	ConsecutiveEyesClosed int `json:"consecutive_eyes_closed"`
	ConsecutiveMouthOpen  int `json:"consecutive_mouth_open"`
	ConsecutiveAsymmetry  int `json:"consecutive_asymmetry"`
}

// Assessment is the outcome of analyzing one frame.
type Assessment struct {
	AttentionScore    int     `json:"attention_score"`
	IsGrimacing       bool    `json:"is_grimacing"`
	EyesClosed        bool    `json:"eyes_closed"`
	MouthOpen         bool    `json:"mouth_open"`
	LookingAway       bool    `json:"looking_away"`
	Asymmetric        bool    `json:"asymmetric"`
	InattentionReason string  `json:"inattention_reason,omitempty"`
	Details           Details `json:"details"`
}

// Attentive reports whether the assessment clears AttentionThreshold and
// carries no grimace.
func (a Assessment) Attentive(threshold int) bool {
	return !a.IsGrimacing && a.AttentionScore >= threshold
}

// Neutral returns the permissive assessment used whenever a frame cannot be
// analyzed.
func Neutral(code string) Assessment {
	return Assessment{
		AttentionScore: 100,
		Details:        Details{Error: code},
	}
}
