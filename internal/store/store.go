// Package store is the file-backed persistence around the planner: it
// reads tasks and declared availability from YAML and writes plan output
// atomically.
package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"

	appLog "studyplan/internal/log"
	"studyplan/internal/model"
)

type tasksFile struct {
	Tasks []model.TaskForPlanning `yaml:"tasks"`
}

type availabilityFile struct {
	Blocks []model.AvailabilityBlock `yaml:"blocks"`
}

// LoadTasks reads tasks from a YAML file of the form
//
//	tasks:
//	  - id: essay
//	    due_at: 2026-02-20T23:59:00-06:00
//	    estimated_effort_minutes: 240
//	    priority: 2
//
// A missing file yields no tasks. Task IDs must be present and unique.
func LoadTasks(path string) ([]model.TaskForPlanning, error) {
	var f tasksFile
	if err := readYAML(path, &f); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(f.Tasks))
	var errs []error
	for i, t := range f.Tasks {
		switch {
		case t.ID == "":
			errs = append(errs, fmt.Errorf("tasks[%d]: id is required", i))
		case seen[t.ID]:
			errs = append(errs, fmt.Errorf("tasks[%d]: duplicate id %q", i, t.ID))
		}
		seen[t.ID] = true
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("store: %s: %w", path, err)
	}
	if f.Tasks == nil {
		f.Tasks = []model.TaskForPlanning{}
	}
	return f.Tasks, nil
}

// LoadAvailability reads declared availability blocks. Blocks without a
// source are tagged manual. Blocks with end <= start are kept; the
// normalizer drops them.
func LoadAvailability(path string) ([]model.AvailabilityBlock, error) {
	var f availabilityFile
	if err := readYAML(path, &f); err != nil {
		return nil, err
	}
	for i := range f.Blocks {
		if f.Blocks[i].Source == "" {
			f.Blocks[i].Source = model.SourceManual
		}
	}
	if f.Blocks == nil {
		f.Blocks = []model.AvailabilityBlock{}
	}
	return f.Blocks, nil
}

func readYAML(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			appLog.Warn("input file missing, treating as empty", "path", path)
			return nil
		}
		return err
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("store: parse %s: %w", path, err)
	}
	return nil
}

// WriteFile atomically replaces path with data, creating parent
// directories as needed.
func WriteFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return atomic.WriteFile(path, bytes.NewReader(data))
}

// WriteJSON atomically writes v as indented JSON.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return WriteFile(path, append(data, '\n'))
}

// ReadJSON decodes the JSON file at path into v.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
