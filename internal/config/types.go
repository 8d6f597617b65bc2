package config

// WorkerConfig defines one executor slot in the pool.
type WorkerConfig struct {
	Capabilities []string `json:"capabilities"`       // Roles this worker can take on
	Capacity     int      `json:"capacity,omitempty"` // Concurrent task limit, defaults to 1
	Executor     string   `json:"executor"`           // "command" or "http"
	Command      string   `json:"command,omitempty"`  // Binary for the command executor
	Args         []string `json:"args,omitempty"`     // Default args appended to every invocation
	WorkDir      string   `json:"workdir,omitempty"`  // Working directory for the command executor
	URL          string   `json:"url,omitempty"`      // Endpoint for the http executor
}

// DecomposerConfig selects how goals are broken into tasks.
type DecomposerConfig struct {
	Mode        string   `json:"mode"`                   // "command" or "chain"
	Command     string   `json:"command,omitempty"`      // Binary for the command collaborator
	Args        []string `json:"args,omitempty"`         // Args appended to every invocation
	Chain       []string `json:"chain,omitempty"`        // Roles for the chain collaborator
	DefaultRole string   `json:"default_role,omitempty"` // Role assigned to steps that name none
}

// ArbiterConfig names the external judge used by the bestof policy.
type ArbiterConfig struct {
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
}

// RetryConfig holds the backoff parameters applied to every retried task.
type RetryConfig struct {
	InitialIntervalMS   int     `json:"initial_interval_ms,omitempty"`
	MaxIntervalMS       int     `json:"max_interval_ms,omitempty"`
	Multiplier          float64 `json:"multiplier,omitempty"`
	RandomizationFactor float64 `json:"randomization_factor,omitempty"`
}

// Config is the top-level configuration.
type Config struct {
	Concurrency int                     `json:"concurrency,omitempty"` // Max tasks in flight per wave
	Retries     int                     `json:"retries,omitempty"`     // Default retry count for decomposed tasks
	FailFast    bool                    `json:"fail_fast,omitempty"`   // Stop dispatching after the first permanent failure
	Aggregation string                  `json:"aggregation,omitempty"` // "merge", "bestof", or "pipeline"
	StorePath   string                  `json:"store_path,omitempty"`  // SQLite path; empty means the default data dir
	Retry       RetryConfig             `json:"retry,omitempty"`
	Arbiter     ArbiterConfig           `json:"arbiter,omitempty"`
	Workers     map[string]WorkerConfig `json:"workers"`
	Decomposer  DecomposerConfig        `json:"decomposer"`
}
