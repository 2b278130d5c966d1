package scenario

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// FilePermissions for exported scenario files
const FilePermissions = 0644

// File is the on-disk form of a scenario. Unset fields keep the base scenario's values.
type File struct {
	Name             string              `yaml:"name" json:"name"`
	Base             string              `yaml:"base,omitempty" json:"base,omitempty"`
	Description      string              `yaml:"description,omitempty" json:"description,omitempty"`
	Executor         string              `yaml:"executor,omitempty" json:"executor,omitempty"`
	StartVUs         *int                `yaml:"startVUs,omitempty" json:"startVUs,omitempty"`
	Stages           []FileStage         `yaml:"stages,omitempty" json:"stages,omitempty"`
	GracefulRampDown string              `yaml:"gracefulRampDown,omitempty" json:"gracefulRampDown,omitempty"`
	GracefulStop     string              `yaml:"gracefulStop,omitempty" json:"gracefulStop,omitempty"`
	Thresholds       map[string][]string `yaml:"thresholds,omitempty" json:"thresholds,omitempty"`
	Pacing           *FilePacing         `yaml:"pacing,omitempty" json:"pacing,omitempty"`
	AbortPause       string              `yaml:"abortPause,omitempty" json:"abortPause,omitempty"`
	Workflow         string              `yaml:"workflow,omitempty" json:"workflow,omitempty"`
}

// FileStage is a stage with a Go duration string, e.g. "1m30s"
type FileStage struct {
	Duration string `yaml:"duration" json:"duration"`
	Target   int    `yaml:"target" json:"target"`
}

type FilePacing struct {
	Min string `yaml:"min" json:"min"`
	Max string `yaml:"max" json:"max"`
}

// LoadFile reads a scenario file. Format is chosen by extension:
// .yaml/.yml for YAML, .json/.jsonc for JSON with comments.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var f File
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("failed to parse YAML scenario: %w", err)
		}
	case ".json", ".jsonc":
		if err := json.Unmarshal(jsonc.ToJSON(data), &f); err != nil {
			return nil, fmt.Errorf("failed to parse JSON scenario: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported scenario file extension %q (use .yaml, .yml, .json or .jsonc)", filepath.Ext(path))
	}

	return &f, nil
}

// Resolve builds the scenario described by f on top of its base built-in
func (f *File) Resolve() (Scenario, error) {
	base := f.Base
	if base == "" {
		base = f.Name
	}
	sc, err := Lookup(base)
	if err != nil {
		return Scenario{}, fmt.Errorf("scenario file base: %w", err)
	}
	return f.Apply(sc)
}

// Apply overrides the fields of sc that f sets
func (f *File) Apply(sc Scenario) (Scenario, error) {
	out := sc.Clone()

	if f.Name != "" {
		out.Name = strings.ToLower(f.Name)
	}
	if f.Description != "" {
		out.Description = f.Description
	}
	if f.Executor != "" {
		out.Executor = f.Executor
	}
	if f.StartVUs != nil {
		out.StartVUs = *f.StartVUs
	}
	if len(f.Stages) > 0 {
		out.Stages = make([]Stage, 0, len(f.Stages))
		for i, st := range f.Stages {
			d, err := time.ParseDuration(st.Duration)
			if err != nil {
				return Scenario{}, fmt.Errorf("stage %d: invalid duration %q: %w", i+1, st.Duration, err)
			}
			out.Stages = append(out.Stages, Stage{Duration: d, Target: st.Target})
		}
	}

	durations := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"gracefulRampDown", f.GracefulRampDown, &out.GracefulRampDown},
		{"gracefulStop", f.GracefulStop, &out.GracefulStop},
		{"abortPause", f.AbortPause, &out.AbortPause},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			return Scenario{}, fmt.Errorf("invalid %s %q: %w", d.name, d.value, err)
		}
		*d.dst = parsed
	}

	if f.Thresholds != nil {
		out.Thresholds = make(map[string][]string, len(f.Thresholds))
		for k, v := range f.Thresholds {
			out.Thresholds[k] = append([]string(nil), v...)
		}
	}

	if f.Pacing != nil {
		min, err := time.ParseDuration(f.Pacing.Min)
		if err != nil {
			return Scenario{}, fmt.Errorf("invalid pacing min %q: %w", f.Pacing.Min, err)
		}
		max := min
		if f.Pacing.Max != "" {
			if max, err = time.ParseDuration(f.Pacing.Max); err != nil {
				return Scenario{}, fmt.Errorf("invalid pacing max %q: %w", f.Pacing.Max, err)
			}
		}
		out.Pacing = Pacing{Min: min, Max: max}
	}

	if f.Workflow != "" {
		wf, ok := workflowByName(strings.ToLower(f.Workflow))
		if !ok {
			return Scenario{}, fmt.Errorf("unknown workflow %q (available: %s)", f.Workflow, strings.Join(Names(), ", "))
		}
		out.WorkflowName = strings.ToLower(f.Workflow)
		out.Workflow = wf
	}

	if err := out.Validate(); err != nil {
		return Scenario{}, err
	}
	return out, nil
}

// ToFile converts a scenario to its on-disk form
func ToFile(sc Scenario) *File {
	start := sc.StartVUs
	f := &File{
		Name:        sc.Name,
		Description: sc.Description,
		Executor:    sc.Executor,
		StartVUs:    &start,
		Thresholds:  sc.Thresholds,
		Pacing:      &FilePacing{Min: FormatDuration(sc.Pacing.Min), Max: FormatDuration(sc.Pacing.Max)},
		AbortPause:  FormatDuration(sc.AbortPause),
		Workflow:    sc.WorkflowName,
	}
	if sc.GracefulRampDown > 0 {
		f.GracefulRampDown = FormatDuration(sc.GracefulRampDown)
	}
	if sc.GracefulStop > 0 {
		f.GracefulStop = FormatDuration(sc.GracefulStop)
	}
	for _, st := range sc.Stages {
		f.Stages = append(f.Stages, FileStage{Duration: FormatDuration(st.Duration), Target: st.Target})
	}
	return f
}

// Marshal renders a scenario as "yaml" or "json"
func Marshal(sc Scenario, format string) ([]byte, error) {
	f := ToFile(sc)
	switch format {
	case "yaml", "yml":
		return yaml.Marshal(f)
	case "json", "jsonc":
		return json.MarshalIndent(f, "", "  ")
	}
	return nil, fmt.Errorf("unsupported format %q", format)
}

// Export writes a scenario to path, format chosen by extension
func Export(sc Scenario, path string) error {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	data, err := Marshal(sc, ext)
	if err != nil {
		return fmt.Errorf("failed to export scenario: %w", err)
	}
	if err := os.WriteFile(path, data, FilePermissions); err != nil {
		return fmt.Errorf("failed to write scenario file: %w", err)
	}
	return nil
}

// FormatDuration prints d without zero trailing units: 1m, 30s, 1h, 1m30s
func FormatDuration(d time.Duration) string {
	if d == 0 {
		return "0s"
	}
	s := d.String()
	if strings.HasSuffix(s, "m0s") {
		s = strings.TrimSuffix(s, "0s")
	}
	if strings.HasSuffix(s, "h0m") {
		s = strings.TrimSuffix(s, "0m")
	}
	return s
}
