package types

// Config is the runtime configuration for the convoy server and core
// components. Loaded from layered jsonc files and environment overrides;
// see internal/config.
type Config struct {
	// DataDir is the root of the file-backed store.
	DataDir string `json:"dataDir,omitempty"`

	Server    ServerConfig    `json:"server,omitempty"`
	Steering  SteeringConfig  `json:"steering,omitempty"`
	Refresh   RefreshConfig   `json:"refresh,omitempty"`
	Tasks     TaskConfig      `json:"tasks,omitempty"`
	Scheduler SchedulerConfig `json:"scheduler,omitempty"`

	// LogLevel is the minimum log level (DEBUG, INFO, WARN, ERROR).
	LogLevel string `json:"logLevel,omitempty"`
}

// ServerConfig configures the HTTP/SSE surface.
type ServerConfig struct {
	Hostname string `json:"hostname,omitempty"`
	Port     int    `json:"port,omitempty"`
	// MaxSSEStreams bounds concurrent SSE connections per server.
	MaxSSEStreams int64 `json:"maxSSEStreams,omitempty"`
}

// SteeringConfig configures the live steering queue.
type SteeringConfig struct {
	// MaxEntries caps a run's queue; the oldest entry is evicted beyond it.
	MaxEntries int `json:"maxEntries,omitempty"`
	// MaxEntryLength caps a single entry's content in bytes after
	// sanitization; longer content is truncated, never rejected.
	MaxEntryLength int `json:"maxEntryLength,omitempty"`
}

// RefreshConfig configures refresh coordinator timing, in milliseconds.
type RefreshConfig struct {
	CoalesceDelayMs int `json:"coalesceDelayMs,omitempty"`
	MinIntervalMs   int `json:"minIntervalMs,omitempty"`
}

// TaskConfig configures the task bus and registry.
type TaskConfig struct {
	// MaxListeners is the generous cap on bus subscribers.
	MaxListeners int `json:"maxListeners,omitempty"`
	// RecentlyCompleted is the size of the completed-task ring buffer.
	RecentlyCompleted int `json:"recentlyCompleted,omitempty"`
}

// SchedulerConfig configures the cron scheduler.
type SchedulerConfig struct {
	// TasksFile is a YAML file of scheduled task definitions.
	TasksFile string `json:"tasksFile,omitempty"`
}

// DefaultConfig returns the built-in defaults applied before any file or
// environment override.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Hostname:      "127.0.0.1",
			Port:          8080,
			MaxSSEStreams: 256,
		},
		Steering: SteeringConfig{
			MaxEntries:     20,
			MaxEntryLength: 8 * 1024,
		},
		Refresh: RefreshConfig{
			CoalesceDelayMs: 150,
			MinIntervalMs:   1000,
		},
		Tasks: TaskConfig{
			MaxListeners:      512,
			RecentlyCompleted: 8,
		},
		LogLevel: "INFO",
	}
}
