package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boolPtr(b bool) *bool { return &b }
func intPtr(n int) *int    { return &n }

func TestParseLevel(t *testing.T) {
	for _, valid := range []string{"none", "basic", "standard", "detailed", "full"} {
		level, err := ParseLevel(valid)
		require.NoError(t, err)
		assert.Equal(t, Level(valid), level)
	}

	_, err := ParseLevel("verbose")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "verbose")
}

func TestLevelManager_LevelDefaults(t *testing.T) {
	tests := []struct {
		level   Level
		enabled map[string]bool
	}{
		{
			level: LevelNone,
			enabled: map[string]bool{
				FeaturePageAnalysis:          false,
				FeatureIframeDetection:       false,
				FeatureModalDetection:        false,
				FeatureElementDiscovery:      false,
				FeaturePerformanceTracking:   false,
				FeatureAccessibilityAnalysis: false,
			},
		},
		{
			level: LevelBasic,
			enabled: map[string]bool{
				FeaturePageAnalysis:          false,
				FeatureIframeDetection:       true,
				FeatureModalDetection:        true,
				FeatureElementDiscovery:      false,
				FeaturePerformanceTracking:   false,
				FeatureAccessibilityAnalysis: false,
			},
		},
		{
			level: LevelStandard,
			enabled: map[string]bool{
				FeaturePageAnalysis:          true,
				FeatureIframeDetection:       true,
				FeatureModalDetection:        true,
				FeatureElementDiscovery:      true,
				FeaturePerformanceTracking:   false,
				FeatureAccessibilityAnalysis: false,
			},
		},
		{
			level: LevelDetailed,
			enabled: map[string]bool{
				FeaturePageAnalysis:          true,
				FeatureIframeDetection:       true,
				FeatureModalDetection:        true,
				FeatureElementDiscovery:      true,
				FeaturePerformanceTracking:   true,
				FeatureAccessibilityAnalysis: false,
			},
		},
		{
			level: LevelFull,
			enabled: map[string]bool{
				FeaturePageAnalysis:          true,
				FeatureIframeDetection:       true,
				FeatureModalDetection:        true,
				FeatureElementDiscovery:      true,
				FeaturePerformanceTracking:   true,
				FeatureAccessibilityAnalysis: true,
			},
		},
	}

	for _, tc := range tests {
		t.Run(string(tc.level), func(t *testing.T) {
			m := NewLevelManager(DiagnosticConfig{Level: tc.level})
			for name, want := range tc.enabled {
				assert.Equal(t, want, m.ShouldEnableFeature(name), name)
			}
		})
	}
}

func TestLevelManager_FeatureOverridesWinOverLevel(t *testing.T) {
	m := NewLevelManager(DiagnosticConfig{
		Level: LevelBasic,
		Features: map[string]bool{
			FeatureModalDetection:      false,
			FeaturePerformanceTracking: true,
		},
	})

	// Basic enables modal detection by default; the explicit entry wins.
	assert.False(t, m.ShouldEnableFeature(FeatureModalDetection))
	// Basic disables performance tracking; the explicit entry wins.
	assert.True(t, m.ShouldEnableFeature(FeaturePerformanceTracking))
	// Untouched features keep their level defaults.
	assert.True(t, m.ShouldEnableFeature(FeatureIframeDetection))
}

func TestLevelManager_LegacyTogglesWinOverFeatures(t *testing.T) {
	m := NewLevelManager(DiagnosticConfig{
		Level:                 LevelFull,
		Features:              map[string]bool{FeatureIframeDetection: true},
		EnableIframeDetection: boolPtr(false),
	})

	assert.False(t, m.ShouldEnableFeature(FeatureIframeDetection),
		"legacy toggle outranks the features map")
}

func TestLevelManager_MaxAlternatives(t *testing.T) {
	assert.Equal(t, 0, NewLevelManager(DiagnosticConfig{Level: LevelNone}).MaxAlternatives())
	assert.Equal(t, 1, NewLevelManager(DiagnosticConfig{Level: LevelBasic}).MaxAlternatives())
	assert.Equal(t, 5, NewLevelManager(DiagnosticConfig{Level: LevelStandard}).MaxAlternatives())
	assert.Equal(t, 10, NewLevelManager(DiagnosticConfig{Level: LevelDetailed}).MaxAlternatives())
	assert.Equal(t, 10, NewLevelManager(DiagnosticConfig{Level: LevelFull}).MaxAlternatives())

	// Thresholds value overrides the level default.
	m := NewLevelManager(DiagnosticConfig{
		Level:      LevelBasic,
		Thresholds: Thresholds{MaxAlternatives: intPtr(7)},
	})
	assert.Equal(t, 7, m.MaxAlternatives())

	// Top-level value overrides both.
	m = NewLevelManager(DiagnosticConfig{
		Level:           LevelBasic,
		Thresholds:      Thresholds{MaxAlternatives: intPtr(7)},
		MaxAlternatives: intPtr(3),
	})
	assert.Equal(t, 3, m.MaxAlternatives())
}

func TestLevelManager_ShouldSkipDiagnostics(t *testing.T) {
	assert.True(t, NewLevelManager(DiagnosticConfig{Level: LevelNone}).ShouldSkipDiagnostics())
	assert.False(t, NewLevelManager(DiagnosticConfig{Level: LevelBasic}).ShouldSkipDiagnostics())
	assert.False(t, NewLevelManager(DiagnosticConfig{}).ShouldSkipDiagnostics(),
		"empty level defaults to standard")
}

func TestLevelManager_UpdateConfigReturnsNewManager(t *testing.T) {
	base := NewLevelManager(DiagnosticConfig{Level: LevelBasic})
	updated := base.UpdateConfig(DiagnosticConfig{Level: LevelFull})

	assert.Equal(t, LevelBasic, base.Config().Level, "receiver untouched")
	assert.Equal(t, LevelFull, updated.Config().Level)
	assert.True(t, updated.ShouldEnableFeature(FeatureAccessibilityAnalysis))
}

func TestLevelManager_EnabledFeatures(t *testing.T) {
	m := NewLevelManager(DiagnosticConfig{Level: LevelStandard})
	resolved := m.EnabledFeatures()

	assert.Len(t, resolved, len(Features))
	assert.True(t, resolved[FeaturePageAnalysis])
	assert.False(t, resolved[FeaturePerformanceTracking])
}
