// Package config holds the diagnostic configuration model and the pure
// level-resolution logic that decides which diagnostic features run.
package config

import (
	"fmt"
)

// Level is the overall diagnostic depth requested by a caller.
type Level string

const (
	LevelNone     Level = "none"
	LevelBasic    Level = "basic"
	LevelStandard Level = "standard"
	LevelDetailed Level = "detailed"
	LevelFull     Level = "full"
)

// ParseLevel validates a level string.
func ParseLevel(s string) (Level, error) {
	switch Level(s) {
	case LevelNone, LevelBasic, LevelStandard, LevelDetailed, LevelFull:
		return Level(s), nil
	default:
		return "", fmt.Errorf("unknown diagnostic level %q", s)
	}
}

// Feature names resolvable through the level manager.
const (
	FeaturePageAnalysis          = "pageAnalysis"
	FeatureIframeDetection       = "iframeDetection"
	FeatureModalDetection        = "modalDetection"
	FeatureElementDiscovery      = "elementDiscovery"
	FeaturePerformanceTracking   = "performanceTracking"
	FeatureAccessibilityAnalysis = "accessibilityAnalysis"
)

// Features lists every known feature name.
var Features = []string{
	FeaturePageAnalysis,
	FeatureIframeDetection,
	FeatureModalDetection,
	FeatureElementDiscovery,
	FeaturePerformanceTracking,
	FeatureAccessibilityAnalysis,
}

// Thresholds bounds a diagnostic run.
type Thresholds struct {
	// MaxDiagnosticTimeMS caps the whole run's wall time.
	MaxDiagnosticTimeMS int64 `yaml:"maxDiagnosticTimeMs,omitempty"`

	// MaxAlternatives caps alternative-element results, overriding the
	// level default when non-nil.
	MaxAlternatives *int `yaml:"maxAlternatives,omitempty"`

	// MaxHeapBytes and MaxActiveHandles trigger resource-pressure
	// warnings when exceeded. Zero disables the check.
	MaxHeapBytes     uint64 `yaml:"maxHeapBytes,omitempty"`
	MaxActiveHandles int    `yaml:"maxActiveHandles,omitempty"`

	// FatalResourceLimits promotes threshold crossings from warnings to
	// errors in the diagnostic report. A pointer so an override can
	// switch it back off; nil means warnings.
	FatalResourceLimits *bool `yaml:"fatalResourceLimits,omitempty"`
}

// DiagnosticConfig is an immutable configuration snapshot. Updates go
// through Merge, which produces a new snapshot; fields are never mutated
// piecemeal.
type DiagnosticConfig struct {
	Level      Level           `yaml:"level"`
	Features   map[string]bool `yaml:"features,omitempty"`
	Thresholds Thresholds      `yaml:"thresholds,omitempty"`

	// MaxAlternatives is the explicit top-level cap. It wins over both
	// Thresholds.MaxAlternatives and the level default.
	MaxAlternatives *int `yaml:"maxAlternatives,omitempty"`

	// Legacy top-level toggles from older configs. When set they win
	// over Features entries and level defaults for their feature.
	EnablePageAnalysis        *bool `yaml:"enablePageAnalysis,omitempty"`
	EnableIframeDetection     *bool `yaml:"enableIframeDetection,omitempty"`
	EnablePerformanceTracking *bool `yaml:"enablePerformanceTracking,omitempty"`
}

// Default returns the standard-level configuration.
func Default() DiagnosticConfig {
	return DiagnosticConfig{Level: LevelStandard}
}

// Merge produces a new snapshot with override's set fields applied on
// top of the receiver. Feature maps merge key-wise; neither input is
// mutated.
func (c DiagnosticConfig) Merge(override DiagnosticConfig) DiagnosticConfig {
	merged := c

	if override.Level != "" {
		merged.Level = override.Level
	}

	if len(c.Features) > 0 || len(override.Features) > 0 {
		features := make(map[string]bool, len(c.Features)+len(override.Features))
		for name, enabled := range c.Features {
			features[name] = enabled
		}
		for name, enabled := range override.Features {
			features[name] = enabled
		}
		merged.Features = features
	}

	if override.Thresholds.MaxDiagnosticTimeMS != 0 {
		merged.Thresholds.MaxDiagnosticTimeMS = override.Thresholds.MaxDiagnosticTimeMS
	}
	if override.Thresholds.MaxAlternatives != nil {
		merged.Thresholds.MaxAlternatives = override.Thresholds.MaxAlternatives
	}
	if override.Thresholds.MaxHeapBytes != 0 {
		merged.Thresholds.MaxHeapBytes = override.Thresholds.MaxHeapBytes
	}
	if override.Thresholds.MaxActiveHandles != 0 {
		merged.Thresholds.MaxActiveHandles = override.Thresholds.MaxActiveHandles
	}
	if override.Thresholds.FatalResourceLimits != nil {
		merged.Thresholds.FatalResourceLimits = override.Thresholds.FatalResourceLimits
	}

	if override.MaxAlternatives != nil {
		merged.MaxAlternatives = override.MaxAlternatives
	}
	if override.EnablePageAnalysis != nil {
		merged.EnablePageAnalysis = override.EnablePageAnalysis
	}
	if override.EnableIframeDetection != nil {
		merged.EnableIframeDetection = override.EnableIframeDetection
	}
	if override.EnablePerformanceTracking != nil {
		merged.EnablePerformanceTracking = override.EnablePerformanceTracking
	}

	return merged
}
