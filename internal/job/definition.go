package job

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bursarynetwork007/auxeira-backend-sub004/internal/alerting"
	"github.com/bursarynetwork007/auxeira-backend-sub004/internal/checkpoint"
	"github.com/bursarynetwork007/auxeira-backend-sub004/internal/core/window"
)

// Definition is one pipeline's configuration, loaded at startup from a YAML
// file and fingerprinted for staleness detection. No hot reload.
type Definition struct {
	Name        string            `json:"name"`
	Parallelism int               `json:"parallelism"`
	Sources     []string          `json:"sources"`
	Window      window.Strategy   `json:"window"`
	Lateness    time.Duration     `json:"lateness"`
	Field       string            `json:"field"` // payload field to aggregate; empty counts events
	AlertRule   alerting.RuleKind `json:"alert_rule,omitempty"`
	MaxRestarts int               `json:"max_restarts"`
	Checkpoint  checkpoint.Config `json:"checkpoint"`
	Fingerprint string            `json:"fingerprint"` // SHA-256 of the raw YAML file
}

// rawDefinition is the on-disk YAML shape. Durations are strings so job
// files can say "1d" and "30m" rather than nanosecond counts.
type rawDefinition struct {
	Name        string   `yaml:"name"`
	Parallelism int      `yaml:"parallelism"`
	Sources     []string `yaml:"sources"`
	Window      struct {
		Strategy string `yaml:"strategy"`
		Size     string `yaml:"size"`
		Slide    string `yaml:"slide"`
		Gap      string `yaml:"gap"`
		Lateness string `yaml:"lateness"`
	} `yaml:"window"`
	Field       string `yaml:"field"`
	AlertRule   string `yaml:"alert_rule"`
	MaxRestarts int    `yaml:"max_restarts"`
	Checkpoint  struct {
		Interval       string `yaml:"interval"`
		Timeout        string `yaml:"timeout"`
		MinPause       string `yaml:"min_pause"`
		MaxConcurrent  int    `yaml:"max_concurrent"`
		RetainOnCancel *bool  `yaml:"retain_on_cancel"`
	} `yaml:"checkpoint"`
}

const (
	defaultParallelism = 4
	defaultMaxRestarts = 3
	defaultLateness    = 5 * time.Minute
)

// DefinitionRepository loads pipeline definitions from *.yaml files in a
// directory, one definition per file, cached in memory at startup.
type DefinitionRepository struct {
	dir  string
	defs map[string]Definition // keyed by Name
}

// NewDefinitionRepository eagerly loads all definitions from dir. A missing
// directory is valid (zero jobs configured); a malformed file is not.
func NewDefinitionRepository(dir string) (*DefinitionRepository, error) {
	repo := &DefinitionRepository{
		dir:  dir,
		defs: make(map[string]Definition),
	}
	if err := repo.load(); err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *DefinitionRepository) load() error {
	info, err := os.Stat(r.dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("job definition dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("job definition path %q is not a directory", r.dir)
	}

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("reading job definition dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || (!strings.HasSuffix(e.Name(), ".yaml") && !strings.HasSuffix(e.Name(), ".yml")) {
			continue
		}

		path := filepath.Join(r.dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading job file %s: %w", path, err)
		}

		def, err := parseDefinition(data)
		if err != nil {
			return fmt.Errorf("job file %s: %w", path, err)
		}
		if def == nil {
			continue // empty / comment-only file
		}

		if _, exists := r.defs[def.Name]; exists {
			return fmt.Errorf("job %q: duplicate job name (check multiple YAML files)", def.Name)
		}
		r.defs[def.Name] = *def
	}
	return nil
}

func parseDefinition(data []byte) (*Definition, error) {
	var raw rawDefinition
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing: %w", err)
	}
	if raw.Name == "" {
		return nil, nil
	}

	if len(raw.Sources) == 0 {
		return nil, fmt.Errorf("job %q: at least one source topic required", raw.Name)
	}
	if raw.Parallelism == 0 {
		raw.Parallelism = defaultParallelism
	}
	if raw.Parallelism < 1 {
		return nil, fmt.Errorf("job %q: parallelism must be >= 1, got %d", raw.Name, raw.Parallelism)
	}
	if raw.MaxRestarts == 0 {
		raw.MaxRestarts = defaultMaxRestarts
	}

	strategy, err := parseStrategy(raw)
	if err != nil {
		return nil, fmt.Errorf("job %q: %w", raw.Name, err)
	}

	lateness := defaultLateness
	if raw.Window.Lateness != "" {
		lateness, err = window.ParseSize(raw.Window.Lateness)
		if err != nil {
			return nil, fmt.Errorf("job %q: lateness: %w", raw.Name, err)
		}
	}

	rule := alerting.RuleKind(raw.AlertRule)
	if raw.AlertRule != "" && !rule.Valid() {
		return nil, fmt.Errorf("job %q: unknown alert rule %q", raw.Name, raw.AlertRule)
	}

	cp, err := parseCheckpoint(raw)
	if err != nil {
		return nil, fmt.Errorf("job %q: checkpoint: %w", raw.Name, err)
	}

	return &Definition{
		Name:        raw.Name,
		Parallelism: raw.Parallelism,
		Sources:     raw.Sources,
		Window:      strategy,
		Lateness:    lateness,
		Field:       raw.Field,
		AlertRule:   rule,
		MaxRestarts: raw.MaxRestarts,
		Checkpoint:  cp,
		Fingerprint: fmt.Sprintf("%x", sha256.Sum256(data)),
	}, nil
}

func parseStrategy(raw rawDefinition) (window.Strategy, error) {
	var s window.Strategy
	s.Type = window.Type(raw.Window.Strategy)

	parse := func(field, value string) (time.Duration, error) {
		if value == "" {
			return 0, nil
		}
		d, err := window.ParseSize(value)
		if err != nil {
			return 0, fmt.Errorf("window %s: %w", field, err)
		}
		return d, nil
	}

	var err error
	if s.Size, err = parse("size", raw.Window.Size); err != nil {
		return s, err
	}
	if s.Slide, err = parse("slide", raw.Window.Slide); err != nil {
		return s, err
	}
	if s.Gap, err = parse("gap", raw.Window.Gap); err != nil {
		return s, err
	}
	if err := s.Validate(); err != nil {
		return s, err
	}
	return s, nil
}

func parseCheckpoint(raw rawDefinition) (checkpoint.Config, error) {
	cfg := checkpoint.DefaultConfig()

	parse := func(field, value string, dst *time.Duration) error {
		if value == "" {
			return nil
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
		*dst = d
		return nil
	}

	if err := parse("interval", raw.Checkpoint.Interval, &cfg.Interval); err != nil {
		return cfg, err
	}
	if err := parse("timeout", raw.Checkpoint.Timeout, &cfg.Timeout); err != nil {
		return cfg, err
	}
	if err := parse("min_pause", raw.Checkpoint.MinPause, &cfg.MinPause); err != nil {
		return cfg, err
	}
	if raw.Checkpoint.MaxConcurrent != 0 {
		cfg.MaxConcurrent = raw.Checkpoint.MaxConcurrent
	}
	if raw.Checkpoint.RetainOnCancel != nil {
		cfg.RetainOnCancel = *raw.Checkpoint.RetainOnCancel
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Get returns the definition with the given name.
func (r *DefinitionRepository) Get(name string) (*Definition, error) {
	def, ok := r.defs[name]
	if !ok {
		return nil, fmt.Errorf("job definition %q not found", name)
	}
	return &def, nil
}

// List returns all loaded definitions.
func (r *DefinitionRepository) List() []Definition {
	out := make([]Definition, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, def)
	}
	return out
}
