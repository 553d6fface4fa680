package arg

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/SoarinFerret/FocusWarden/internal/analyzer"
	"github.com/SoarinFerret/FocusWarden/internal/config"
	"github.com/SoarinFerret/FocusWarden/internal/geometry"
	"github.com/SoarinFerret/FocusWarden/internal/landmarks"
)

var (
	synthetic  bool
	jsonOutput bool
	configPath string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [file...]",
	Short: "Replay recorded landmark frames through the analyzer",
	Long: `Replay landmark frames through the attention analyzer and print one
assessment per frame. Files hold JSON values, each a frame
({"positions":[{"x":..,"y":..}]} or a FRAME payload with "landmarks") or an
array of frames. Use "-" for stdin.
Examples:
  fwctl analyze recording.json
  fwctl analyze --synthetic --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := analyzer.DefaultConfig()
		if configPath != "" {
			c, err := config.LoadConfigFromFile(configPath)
			if err != nil {
				return err
			}
			cfg = c.Analyzer
		}

		var frames []labeledFrame
		if synthetic {
			frames = syntheticFrames()
		}
		for _, path := range args {
			f, err := readFramesFile(path)
			if err != nil {
				return err
			}
			frames = append(frames, f...)
		}
		if len(frames) == 0 {
			return errors.New("no frames: pass files or --synthetic")
		}
		return runAnalyze(cmd.OutOrStdout(), analyzer.New(cfg), frames, jsonOutput)
	},
}

type labeledFrame struct {
	Label string
	Face  *landmarks.FaceLandmarks
}

func runAnalyze(w io.Writer, a *analyzer.Analyzer, frames []labeledFrame, asJSON bool) error {
	enc := json.NewEncoder(w)
	for i, f := range frames {
		res := a.Analyze(f.Face)
		if asJSON {
			if err := enc.Encode(struct {
				Frame int    `json:"frame"`
				Label string `json:"label,omitempty"`
				analyzer.Assessment
			}{i + 1, f.Label, res}); err != nil {
				return err
			}
			continue
		}

		fmt.Fprintf(w, "frame %3d  score=%3d  grimacing=%-5t", i+1, res.AttentionScore, res.IsGrimacing)
		if res.InattentionReason != "" {
			fmt.Fprintf(w, "  reason=%q", res.InattentionReason)
		}
		if res.Details.Error != "" {
			fmt.Fprintf(w, "  error=%s", res.Details.Error)
		}
		if f.Label != "" {
			fmt.Fprintf(w, "  [%s]", f.Label)
		}
		fmt.Fprintln(w)
	}
	return nil
}

func readFramesFile(path string) ([]labeledFrame, error) {
	if path == "-" {
		return readFrames(os.Stdin, "stdin")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readFrames(f, path)
}

// recordedFrame accepts a bare landmark set or a FRAME payload.
type recordedFrame struct {
	Positions []geometry.Point         `json:"positions"`
	Landmarks *landmarks.FaceLandmarks `json:"landmarks"`
}

func (r recordedFrame) face() *landmarks.FaceLandmarks {
	if r.Landmarks != nil {
		return r.Landmarks
	}
	if r.Positions != nil {
		return landmarks.New(r.Positions)
	}
	return nil
}

func readFrames(r io.Reader, name string) ([]labeledFrame, error) {
	dec := json.NewDecoder(r)
	var frames []labeledFrame
	for {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				return frames, nil
			}
			return nil, fmt.Errorf("%s: %w", name, err)
		}

		var batch []recordedFrame
		if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '[' {
			if err := json.Unmarshal(raw, &batch); err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
		} else {
			var one recordedFrame
			if err := json.Unmarshal(raw, &one); err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			batch = append(batch, one)
		}
		for _, rf := range batch {
			frames = append(frames, labeledFrame{Label: name, Face: rf.face()})
		}
	}
}

// syntheticFrames is a short scripted session: attentive, eyes closing past
// the debounce, a yawn, a glance away and no face at all.
func syntheticFrames() []labeledFrame {
	closed := landmarks.DefaultFaceParams()
	closed.EyeAperture = 2
	yawn := landmarks.DefaultFaceParams()
	yawn.MouthAperture = 30
	away := landmarks.DefaultFaceParams()
	away.NoseOffset = 30

	var frames []labeledFrame
	add := func(label string, n int, face *landmarks.FaceLandmarks) {
		for i := 0; i < n; i++ {
			frames = append(frames, labeledFrame{Label: label, Face: face})
		}
	}
	add("frontal", 2, landmarks.Frontal())
	add("eyes closed", 3, landmarks.Synthetic(closed))
	add("frontal", 1, landmarks.Frontal())
	add("yawn", 3, landmarks.Synthetic(yawn))
	add("looking away", 1, landmarks.Synthetic(away))
	add("no face", 1, nil)
	return frames
}

func init() {
	analyzeCmd.Flags().BoolVar(&synthetic, "synthetic", false, "Analyze a generated sequence of faces")
	analyzeCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print assessments as JSON lines")
	analyzeCmd.Flags().StringVarP(&configPath, "config", "c", "", "Read [analyzer] thresholds from this config file")
	rootCmd.AddCommand(analyzeCmd)
}
