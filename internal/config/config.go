package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/tidwall/jsonc"

	"github.com/convoy-ai/convoy/pkg/types"
)

// Load loads configuration from multiple sources (priority order):
// 1. Global config (~/.config/convoy/)
// 2. Project config (<directory>/convoy.json[c])
// 3. CONVOY_CONFIG file
// 4. CONVOY_CONFIG_CONTENT inline JSON
// 5. Environment variables
//
// A .env file in the working directory is loaded first so file and env
// interpolation both see it.
func Load(directory string) (*types.Config, error) {
	if directory != "" {
		// Missing .env is fine.
		_ = godotenv.Load(filepath.Join(directory, ".env"))
	}

	config := types.DefaultConfig()

	loaded := make(map[string]bool)
	loadOnce := func(path string) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return
		}
		if loaded[absPath] {
			return
		}
		if loadConfigFile(path, config) == nil {
			loaded[absPath] = true
		}
	}

	globalPath := GetPaths().Config
	loadOnce(filepath.Join(globalPath, "convoy.json"))
	loadOnce(filepath.Join(globalPath, "convoy.jsonc"))

	if directory != "" {
		loadOnce(filepath.Join(directory, "convoy.json"))
		loadOnce(filepath.Join(directory, "convoy.jsonc"))
	}

	if configPath := os.Getenv("CONVOY_CONFIG"); configPath != "" {
		loadOnce(configPath)
	}

	if content := os.Getenv("CONVOY_CONFIG_CONTENT"); content != "" {
		var inline types.Config
		if err := json.Unmarshal(jsonc.ToJSON([]byte(content)), &inline); err == nil {
			mergeConfig(config, &inline)
		}
	}

	applyEnvOverrides(config)

	if config.DataDir == "" {
		config.DataDir = GetPaths().StoragePath()
	}

	return config, nil
}

// loadConfigFile loads a single jsonc config file into config.
func loadConfigFile(path string, config *types.Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err // file doesn't exist, skip
	}

	var fileConfig types.Config
	if err := json.Unmarshal(jsonc.ToJSON(data), &fileConfig); err != nil {
		return err
	}

	mergeConfig(config, &fileConfig)
	return nil
}

// mergeConfig overlays non-zero fields of src onto dst.
func mergeConfig(dst, src *types.Config) {
	if src.DataDir != "" {
		dst.DataDir = src.DataDir
	}
	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}
	if src.Server.Hostname != "" {
		dst.Server.Hostname = src.Server.Hostname
	}
	if src.Server.Port != 0 {
		dst.Server.Port = src.Server.Port
	}
	if src.Server.MaxSSEStreams != 0 {
		dst.Server.MaxSSEStreams = src.Server.MaxSSEStreams
	}
	if src.Steering.MaxEntries != 0 {
		dst.Steering.MaxEntries = src.Steering.MaxEntries
	}
	if src.Steering.MaxEntryLength != 0 {
		dst.Steering.MaxEntryLength = src.Steering.MaxEntryLength
	}
	if src.Refresh.CoalesceDelayMs != 0 {
		dst.Refresh.CoalesceDelayMs = src.Refresh.CoalesceDelayMs
	}
	if src.Refresh.MinIntervalMs != 0 {
		dst.Refresh.MinIntervalMs = src.Refresh.MinIntervalMs
	}
	if src.Tasks.MaxListeners != 0 {
		dst.Tasks.MaxListeners = src.Tasks.MaxListeners
	}
	if src.Tasks.RecentlyCompleted != 0 {
		dst.Tasks.RecentlyCompleted = src.Tasks.RecentlyCompleted
	}
	if src.Scheduler.TasksFile != "" {
		dst.Scheduler.TasksFile = src.Scheduler.TasksFile
	}
}

// applyEnvOverrides applies CONVOY_* environment variables (highest
// priority).
func applyEnvOverrides(config *types.Config) {
	if v := os.Getenv("CONVOY_DATA_DIR"); v != "" {
		config.DataDir = v
	}
	if v := os.Getenv("CONVOY_LOG_LEVEL"); v != "" {
		config.LogLevel = v
	}
	if v := os.Getenv("CONVOY_HOSTNAME"); v != "" {
		config.Server.Hostname = v
	}
	if v := os.Getenv("CONVOY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			config.Server.Port = port
		}
	}
	if v := os.Getenv("CONVOY_TASKS_FILE"); v != "" {
		config.Scheduler.TasksFile = v
	}
}
