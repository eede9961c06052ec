// Package scheduler fires cron-scheduled agent runs. Each firing registers
// a task with the registry so SSE subscribers see its lifecycle, then hands
// the prompt to the runner callback.
package scheduler

import (
	"fmt"
	"os"

	"github.com/oklog/ulid/v2"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/convoy-ai/convoy/internal/logging"
	"github.com/convoy-ai/convoy/internal/task"
	"github.com/convoy-ai/convoy/pkg/types"
)

// Entry is one scheduled task definition from the tasks file.
type Entry struct {
	Name      string `yaml:"name"`
	Schedule  string `yaml:"schedule"` // cron expression, optional seconds field
	SessionID string `yaml:"sessionId"`
	UserID    string `yaml:"userId"`
	Prompt    string `yaml:"prompt"`
	Disabled  bool   `yaml:"disabled,omitempty"`
}

// Runner executes one scheduled firing and returns its result summary.
type Runner func(entry Entry) (string, error)

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Scheduler evaluates cron expressions from a YAML tasks file and fires
// entries through the runner.
type Scheduler struct {
	registry *task.Registry
	runner   Runner
	cron     *cron.Cron
	entries  []Entry
}

// New creates a Scheduler publishing through the given registry.
func New(registry *task.Registry, runner Runner) *Scheduler {
	return &Scheduler{
		registry: registry,
		runner:   runner,
		cron:     cron.New(cron.WithParser(cronParser)),
	}
}

// LoadFile reads scheduled task entries from a YAML file.
func LoadFile(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tasks file: %w", err)
	}

	var doc struct {
		Tasks []Entry `yaml:"tasks"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse tasks file: %w", err)
	}
	return doc.Tasks, nil
}

// Start registers the enabled entries as cron jobs and starts the ticker.
// Entries with invalid schedules are skipped with an error log.
func (s *Scheduler) Start(entries []Entry) error {
	s.entries = entries

	for _, entry := range entries {
		if entry.Schedule == "" || entry.Disabled {
			continue
		}

		entry := entry
		_, err := s.cron.AddFunc(entry.Schedule, func() {
			s.fire(entry)
		})
		if err != nil {
			logging.Error().
				Str("name", entry.Name).
				Str("schedule", entry.Schedule).
				Err(err).
				Msg("invalid cron schedule")
			continue
		}
		logging.Info().
			Str("name", entry.Name).
			Str("schedule", entry.Schedule).
			Msg("scheduled task registered")
	}

	s.cron.Start()
	return nil
}

// fire runs one entry through the registry lifecycle.
func (s *Scheduler) fire(entry Entry) {
	t := types.Task{
		ID:     ulid.Make().String(),
		RunID:  ulid.Make().String(),
		UserID: entry.UserID,
		Kind:   "scheduled",
		Status: "running",
	}
	s.registry.Register(t)

	summary, err := s.runner(entry)
	if err != nil {
		logging.Warn().
			Str("name", entry.Name).
			Err(err).
			Msg("scheduled task failed")
		s.registry.Complete(t.ID, err.Error(), "")
		return
	}
	s.registry.Complete(t.ID, "", summary)
}

// Reload replaces the cron with a fresh one built from entries.
func (s *Scheduler) Reload(entries []Entry) error {
	s.cron.Stop()
	s.cron = cron.New(cron.WithParser(cronParser))
	return s.Start(entries)
}

// Stop stops the cron ticker; in-flight firings finish on their own.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}
