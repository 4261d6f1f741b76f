package models

// SetupMode controls whether scenario setup blocks the start request
// or runs in the background while the shell is already usable.
type SetupMode string

const (
	SetupSync       SetupMode = "sync"
	SetupBackground SetupMode = "background"
)

// ScenarioFile is one file materialized inside the environment during setup.
type ScenarioFile struct {
	Path    string `yaml:"path" json:"path"`
	Content string `yaml:"content" json:"content"`
	Mode    uint32 `yaml:"mode,omitempty" json:"mode,omitempty"`
}

// Scenario is a declarative template describing what a sandbox instance
// should contain and how it is set up. Scenarios are loaded once at startup
// and are read-only afterwards.
type Scenario struct {
	ID          string         `yaml:"-" json:"id"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Image       string         `yaml:"image" json:"image"`
	CPUs        float64        `yaml:"cpus" json:"cpus"`
	Memory      string         `yaml:"memory" json:"memory"`
	Packages    []string       `yaml:"packages,omitempty" json:"packages,omitempty"`
	Files       []ScenarioFile `yaml:"files,omitempty" json:"files,omitempty"`
	Setup       []string       `yaml:"setup,omitempty" json:"setup,omitempty"`
	PublishPort bool           `yaml:"publish_port,omitempty" json:"publishPort,omitempty"`
	SetupMode   SetupMode      `yaml:"setup_mode,omitempty" json:"setupMode,omitempty"`
	BestEffort  bool           `yaml:"best_effort,omitempty" json:"bestEffort,omitempty"`
	TargetPath  string         `yaml:"target_path,omitempty" json:"targetPath,omitempty"`

	// MemoryBytes is resolved from Memory at catalog load time.
	MemoryBytes int64 `yaml:"-" json:"-"`
}
