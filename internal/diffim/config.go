package diffim

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig holds the tunable parameters of footprint selection and
// fit quality evaluation. Fields are pointers so partial JSON configs
// are safe: anything omitted falls back to the Get* defaults.
type TuningConfig struct {
	// Footprint selection params
	FootprintNPixMin          *int     `json:"footprint_npix_min,omitempty"`
	FootprintGrowPixels       *int     `json:"footprint_grow_pixels,omitempty"`
	MinCleanFootprints        *int     `json:"minimum_clean_footprints,omitempty"`
	DetectionThreshold        *float64 `json:"detection_threshold,omitempty"`
	DetectionThresholdScaling *float64 `json:"detection_threshold_scaling,omitempty"`
	MinDetectionThreshold     *float64 `json:"minimum_detection_threshold,omitempty"`

	// Kernel params
	KernelCols *int `json:"kernel_cols,omitempty"`
	KernelRows *int `json:"kernel_rows,omitempty"`

	// Difference-image quality params
	MaxResidualMean *float64 `json:"maximum_residual_mean,omitempty"`
	MaxResidualStd  *float64 `json:"maximum_residual_std,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with all fields unset, so
// every accessor returns its default.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file. Fields
// omitted from the file retain their defaults, so partial configs are
// safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that set configuration values are usable.
func (c *TuningConfig) Validate() error {
	if c.FootprintNPixMin != nil && *c.FootprintNPixMin < 1 {
		return fmt.Errorf("footprint_npix_min must be positive, got %d", *c.FootprintNPixMin)
	}
	if c.FootprintGrowPixels != nil && *c.FootprintGrowPixels < 0 {
		return fmt.Errorf("footprint_grow_pixels must be non-negative, got %d", *c.FootprintGrowPixels)
	}
	if c.DetectionThresholdScaling != nil {
		if s := *c.DetectionThresholdScaling; s <= 0 || s >= 1 {
			return fmt.Errorf("detection_threshold_scaling must be in (0,1), got %f", s)
		}
	}
	if c.DetectionThreshold != nil && *c.DetectionThreshold <= 0 {
		return fmt.Errorf("detection_threshold must be positive, got %f", *c.DetectionThreshold)
	}
	if c.MinDetectionThreshold != nil && *c.MinDetectionThreshold < 0 {
		return fmt.Errorf("minimum_detection_threshold must be non-negative, got %f", *c.MinDetectionThreshold)
	}
	if c.KernelCols != nil && *c.KernelCols < 1 {
		return fmt.Errorf("kernel_cols must be positive, got %d", *c.KernelCols)
	}
	if c.KernelRows != nil && *c.KernelRows < 1 {
		return fmt.Errorf("kernel_rows must be positive, got %d", *c.KernelRows)
	}
	if c.MaxResidualMean != nil && *c.MaxResidualMean < 0 {
		return fmt.Errorf("maximum_residual_mean must be non-negative, got %f", *c.MaxResidualMean)
	}
	if c.MaxResidualStd != nil && *c.MaxResidualStd < 0 {
		return fmt.Errorf("maximum_residual_std must be non-negative, got %f", *c.MaxResidualStd)
	}
	return nil
}

// GetFootprintNPixMin returns the minimum pixel count for a detected
// footprint to be considered.
func (c *TuningConfig) GetFootprintNPixMin() int {
	if c.FootprintNPixMin == nil {
		return 20
	}
	return *c.FootprintNPixMin
}

// GetFootprintGrowPixels returns the margin a surviving footprint is
// grown by in all directions.
func (c *TuningConfig) GetFootprintGrowPixels() int {
	if c.FootprintGrowPixels == nil {
		return 10
	}
	return *c.FootprintGrowPixels
}

// GetMinCleanFootprints returns the region count the selector tries to
// reach before giving up on lowering the threshold.
func (c *TuningConfig) GetMinCleanFootprints() int {
	if c.MinCleanFootprints == nil {
		return 10
	}
	return *c.MinCleanFootprints
}

// GetDetectionThreshold returns the starting detection threshold.
func (c *TuningConfig) GetDetectionThreshold() float64 {
	if c.DetectionThreshold == nil {
		return 10.0
	}
	return *c.DetectionThreshold
}

// GetDetectionThresholdScaling returns the factor the threshold is
// multiplied by between selection passes; always in (0,1).
func (c *TuningConfig) GetDetectionThresholdScaling() float64 {
	if c.DetectionThresholdScaling == nil {
		return 0.5
	}
	return *c.DetectionThresholdScaling
}

// GetMinDetectionThreshold returns the threshold floor below which the
// selector stops scaling down.
func (c *TuningConfig) GetMinDetectionThreshold() float64 {
	if c.MinDetectionThreshold == nil {
		return 0.5
	}
	return *c.MinDetectionThreshold
}

// GetKernelCols returns the basis kernel width.
func (c *TuningConfig) GetKernelCols() int {
	if c.KernelCols == nil {
		return 19
	}
	return *c.KernelCols
}

// GetKernelRows returns the basis kernel height.
func (c *TuningConfig) GetKernelRows() int {
	if c.KernelRows == nil {
		return 19
	}
	return *c.KernelRows
}

// GetMaxResidualMean returns the largest acceptable |mean| of the
// normalized residuals of a difference image.
func (c *TuningConfig) GetMaxResidualMean() float64 {
	if c.MaxResidualMean == nil {
		return 0.25
	}
	return *c.MaxResidualMean
}

// GetMaxResidualStd returns the largest acceptable residual standard
// deviation of a difference image.
func (c *TuningConfig) GetMaxResidualStd() float64 {
	if c.MaxResidualStd == nil {
		return 1.25
	}
	return *c.MaxResidualStd
}
