package evaluation

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
)

// GroundTruthFile maps a video identifier (usually a path relative to the videos directory) to its ground truth
type GroundTruthFile map[string]GroundTruth

// LoadGroundTruth reads a JSON file of the form {"video.mp4": {"horse": 2, "cow": 1}}
func LoadGroundTruth(filename string) (GroundTruthFile, error) {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("Error loading ground truth %v: %w", filename, err)
	}
	gt := GroundTruthFile{}
	if err := json.Unmarshal(raw, &gt); err != nil {
		return nil, fmt.Errorf("%w: Error parsing %v as JSON: %v", ErrInvalidGroundTruth, filename, err)
	}
	if err := gt.Validate(nil); err != nil {
		return nil, err
	}
	return gt, nil
}

// Validate checks that all counts are non-negative.
// If classes is not empty, then every class in the ground truth must be one of them.
func (g GroundTruthFile) Validate(classes []string) error {
	known := map[string]bool{}
	for _, c := range classes {
		known[c] = true
	}
	for _, video := range g.Videos() {
		if g[video] == nil {
			return fmt.Errorf("%w: video '%v' has no class counts", ErrInvalidGroundTruth, video)
		}
		for class, count := range g[video] {
			if count < 0 {
				return fmt.Errorf("%w: video '%v' class '%v' has negative count %v", ErrInvalidGroundTruth, video, class, count)
			}
			if len(known) != 0 && !known[class] {
				return fmt.Errorf("%w: video '%v' class '%v' is not a configured animal class", ErrInvalidGroundTruth, video, class)
			}
		}
	}
	return nil
}

// Videos returns the video identifiers, sorted
func (g GroundTruthFile) Videos() []string {
	return slices.Sorted(maps.Keys(g))
}

// ResolveVideoPath turns a ground truth key into a path on disk.
// Relative keys are relative to videoDir.
func ResolveVideoPath(videoDir, key string) string {
	if filepath.IsAbs(key) {
		return key
	}
	return filepath.Join(videoDir, key)
}
