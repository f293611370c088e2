package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	ToolsChanged    bool       // true if any tool was added, removed, or re-categorised
	ToolChanges     []ToolDiff // per-tool diffs
	FusionChanged   bool       // true if any fusion tuning knob changed
	LogLevelChanged bool
	NewLogLevel     LogLevel
}

// ToolDiff describes what changed for a single tool between two configs.
type ToolDiff struct {
	Name               string
	CategoryChanged    bool
	DescriptionChanged bool
	Added              bool
	Removed            bool
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Fusion tuning
	if old.Fusion.ProviderTimeoutMs != new.Fusion.ProviderTimeoutMs ||
		old.Fusion.StageTimeoutMs != new.Fusion.StageTimeoutMs ||
		old.Fusion.MinReliable != new.Fusion.MinReliable ||
		old.Fusion.MinReviews != new.Fusion.MinReviews ||
		old.Fusion.MaxResults != new.Fusion.MaxResults ||
		!slices.Equal(old.Fusion.RadiusLadderM, new.Fusion.RadiusLadderM) {
		d.FusionChanged = true
	}

	// Build tool lookup maps keyed by name.
	oldTools := make(map[string]*ToolConfig, len(old.Tools))
	for i := range old.Tools {
		oldTools[old.Tools[i].Name] = &old.Tools[i]
	}
	newTools := make(map[string]*ToolConfig, len(new.Tools))
	for i := range new.Tools {
		newTools[new.Tools[i].Name] = &new.Tools[i]
	}

	// Detect modified and removed tools.
	for name, oldTool := range oldTools {
		newTool, exists := newTools[name]
		if !exists {
			d.ToolChanges = append(d.ToolChanges, ToolDiff{
				Name:    name,
				Removed: true,
			})
			d.ToolsChanged = true
			continue
		}
		td := diffTool(name, oldTool, newTool)
		if td.CategoryChanged || td.DescriptionChanged {
			d.ToolChanges = append(d.ToolChanges, td)
			d.ToolsChanged = true
		}
	}

	// Detect added tools.
	for name := range newTools {
		if _, exists := oldTools[name]; !exists {
			d.ToolChanges = append(d.ToolChanges, ToolDiff{
				Name:  name,
				Added: true,
			})
			d.ToolsChanged = true
		}
	}

	return d
}

// diffTool compares two tool configs with the same name.
func diffTool(name string, old, new *ToolConfig) ToolDiff {
	td := ToolDiff{Name: name}

	if old.Category != new.Category {
		td.CategoryChanged = true
	}

	if old.Description != new.Description {
		td.DescriptionChanged = true
	}

	return td
}
