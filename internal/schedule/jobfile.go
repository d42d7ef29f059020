package schedule

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// jobFile is the declarative job list format:
//
//	jobs:
//	  - name: nightly-digest
//	    cron: "0 9 * * *"
//	    instruction: summarize overnight activity
//	    enabled: true
type jobFile struct {
	Jobs []jobEntry `yaml:"jobs"`
}

type jobEntry struct {
	Name        string `yaml:"name"`
	Cron        string `yaml:"cron"`
	Instruction string `yaml:"instruction"`
	Enabled     *bool  `yaml:"enabled"`
}

// LoadFile registers every job declared in a YAML file. Any invalid entry
// fails the whole load so a bad file is caught at startup, not at tick time.
// Entries whose name is already registered are skipped, so reloading the same
// file is idempotent.
func (sc *Scheduler) LoadFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read job file: %w", err)
	}

	var f jobFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return 0, fmt.Errorf("parse job file %s: %w", path, err)
	}

	known := make(map[string]bool)
	for _, job := range sc.ListJobs() {
		known[job.Name] = true
	}

	loaded := 0
	for i, entry := range f.Jobs {
		if entry.Name == "" {
			return loaded, fmt.Errorf("job file %s: entry %d has no name", path, i+1)
		}
		if known[entry.Name] {
			continue
		}
		job, err := sc.CreateJob(entry.Name, entry.Cron, entry.Instruction)
		if err != nil {
			return loaded, fmt.Errorf("job file %s: job %q: %w", path, entry.Name, err)
		}
		if entry.Enabled != nil && !*entry.Enabled {
			if err := sc.SetEnabled(job.ID, false); err != nil {
				return loaded, err
			}
		}
		loaded++
	}
	debugLog("loaded %d jobs from %s", loaded, path)
	return loaded, nil
}
