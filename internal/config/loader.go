package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads and parses the job manifest at path.
func Load(path string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	job, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return job, nil
}

// Parse validates and decodes a job manifest. The document is checked
// against the embedded schema first so that structural mistakes are
// reported with instance paths, then decoded strictly so that unknown
// fields are rejected, then defaulted and validated semantically.
func Parse(data []byte) (*Job, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("manifest is empty")
	}
	if err := validateAgainstSchema(doc); err != nil {
		return nil, err
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var job Job
	if err := dec.Decode(&job); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}

	job.ApplyDefaults()
	if err := job.Validate(); err != nil {
		return nil, err
	}
	return &job, nil
}
