package config

// DefaultConfig returns the default configuration: a single general
// worker, a linear plan/execute/review chain, and the merge policy.
func DefaultConfig() *Config {
	return &Config{
		Concurrency: 4,
		Retries:     2,
		Aggregation: "merge",
		Workers: map[string]WorkerConfig{
			"general": {
				Capabilities: []string{"general", "plan", "execute", "review"},
				Capacity:     2,
				Executor:     "command",
				Command:      "goalflow-worker",
			},
		},
		Decomposer: DecomposerConfig{
			Mode:        "chain",
			Chain:       []string{"plan", "execute", "review"},
			DefaultRole: "general",
		},
	}
}
