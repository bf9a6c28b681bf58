package config

// LevelManager resolves feature flags and thresholds from a
// DiagnosticConfig snapshot. It is a pure decision component: no I/O, no
// mutation. UpdateConfig returns a new manager over the merged snapshot.
type LevelManager struct {
	cfg DiagnosticConfig
}

// NewLevelManager wraps a configuration snapshot. An empty level falls
// back to standard.
func NewLevelManager(cfg DiagnosticConfig) *LevelManager {
	if cfg.Level == "" {
		cfg.Level = LevelStandard
	}
	return &LevelManager{cfg: cfg}
}

// Config returns the underlying snapshot.
func (m *LevelManager) Config() DiagnosticConfig {
	return m.cfg
}

// UpdateConfig merges an override into the snapshot and returns a new
// manager; the receiver is unchanged.
func (m *LevelManager) UpdateConfig(override DiagnosticConfig) *LevelManager {
	return NewLevelManager(m.cfg.Merge(override))
}

// ShouldEnableFeature resolves one feature flag. Resolution order:
// legacy top-level toggle, explicit Features entry, level default.
func (m *LevelManager) ShouldEnableFeature(name string) bool {
	if legacy := m.legacyToggle(name); legacy != nil {
		return *legacy
	}
	if enabled, ok := m.cfg.Features[name]; ok {
		return enabled
	}
	return levelDefault(m.cfg.Level, name)
}

// legacyToggle maps a feature to its legacy top-level boolean, when set.
func (m *LevelManager) legacyToggle(name string) *bool {
	switch name {
	case FeaturePageAnalysis:
		return m.cfg.EnablePageAnalysis
	case FeatureIframeDetection:
		return m.cfg.EnableIframeDetection
	case FeaturePerformanceTracking:
		return m.cfg.EnablePerformanceTracking
	default:
		return nil
	}
}

// levelDefault is the per-level feature table.
func levelDefault(level Level, name string) bool {
	switch level {
	case LevelNone:
		return false
	case LevelBasic:
		return name == FeatureIframeDetection || name == FeatureModalDetection
	case LevelStandard:
		return name != FeaturePerformanceTracking && name != FeatureAccessibilityAnalysis
	case LevelDetailed:
		return name != FeatureAccessibilityAnalysis
	case LevelFull:
		return true
	default:
		return false
	}
}

// MaxAlternatives resolves the alternative-element cap. Resolution
// order: explicit top-level value, thresholds value, level default.
func (m *LevelManager) MaxAlternatives() int {
	if m.cfg.MaxAlternatives != nil {
		return *m.cfg.MaxAlternatives
	}
	if m.cfg.Thresholds.MaxAlternatives != nil {
		return *m.cfg.Thresholds.MaxAlternatives
	}
	switch m.cfg.Level {
	case LevelNone:
		return 0
	case LevelBasic:
		return 1
	case LevelStandard:
		return 5
	case LevelDetailed, LevelFull:
		return 10
	default:
		return 5
	}
}

// ShouldSkipDiagnostics is true only at level none.
func (m *LevelManager) ShouldSkipDiagnostics() bool {
	return m.cfg.Level == LevelNone
}

// EnabledFeatures returns the resolved state of every known feature,
// useful for logging what a run will do.
func (m *LevelManager) EnabledFeatures() map[string]bool {
	resolved := make(map[string]bool, len(Features))
	for _, name := range Features {
		resolved[name] = m.ShouldEnableFeature(name)
	}
	return resolved
}
