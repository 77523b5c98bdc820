package config

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Job is the parsed form of a job manifest. A manifest names the
// stressors to dispatch, how many workers each gets, and the shared
// run settings that apply to all of them.
type Job struct {
	Version   string          `yaml:"version"`
	Run       RunSpec         `yaml:"run"`
	Stressors []*StressorSpec `yaml:"stressors"`
}

// RunSpec carries settings shared by every stressor in the job.
type RunSpec struct {
	// Timeout bounds the whole run. Zero or unset means run until
	// interrupted or until every stressor reaches its ops budget.
	Timeout Duration `yaml:"timeout"`

	// Verify enables data verification in stressors that support it.
	Verify bool `yaml:"verify"`
}

// StressorSpec configures a single stressor entry.
type StressorSpec struct {
	Name string `yaml:"name"`

	// Workers is the number of worker processes to spawn. Unset
	// defaults to one; an explicit zero means one per CPU.
	Workers *int `yaml:"workers"`

	// Ops caps the bogo-ops each worker performs. Zero means
	// unbounded.
	Ops uint64 `yaml:"ops"`

	Options Options `yaml:"options"`
}

// Options holds stressor-specific tunables. Manifest values may be
// written as strings, numbers, or booleans; all are carried as
// strings and parsed by the stressor that consumes them.
type Options map[string]string

// UnmarshalYAML accepts scalar option values of any YAML type and
// normalizes them to strings.
func (o *Options) UnmarshalYAML(value *yaml.Node) error {
	var raw map[string]any
	if err := value.Decode(&raw); err != nil {
		return err
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		switch t := v.(type) {
		case string:
			out[k] = t
		case bool:
			out[k] = strconv.FormatBool(t)
		case int:
			out[k] = strconv.Itoa(t)
		case int64:
			out[k] = strconv.FormatInt(t, 10)
		case uint64:
			out[k] = strconv.FormatUint(t, 10)
		case float64:
			out[k] = strconv.FormatFloat(t, 'g', -1, 64)
		default:
			return fmt.Errorf("option %q: unsupported value type %T", k, v)
		}
	}
	*o = out
	return nil
}

// ApplyDefaults fills in unset fields after parsing. Absent worker
// counts become one; an explicit zero expands to one worker per CPU.
func (j *Job) ApplyDefaults() {
	for _, s := range j.Stressors {
		if s == nil {
			continue
		}
		if s.Workers == nil {
			one := 1
			s.Workers = &one
		} else if *s.Workers == 0 {
			n := runtime.NumCPU()
			s.Workers = &n
		}
	}
}

// Validate checks the manifest for semantic errors that the schema
// cannot express. It assumes ApplyDefaults has run.
func (j *Job) Validate() error {
	if j.Version != "1" {
		return fmt.Errorf("unsupported manifest version %q (want \"1\")", j.Version)
	}
	if len(j.Stressors) == 0 {
		return fmt.Errorf("manifest defines no stressors")
	}
	if j.Run.Timeout.Duration < 0 {
		return fmt.Errorf("run.timeout must not be negative")
	}
	seen := make(map[string]bool, len(j.Stressors))
	for i, s := range j.Stressors {
		if s == nil {
			return fmt.Errorf("stressors[%d] is null", i)
		}
		if s.Name == "" {
			return fmt.Errorf("stressors[%d] has no name", i)
		}
		if strings.Contains(s.Name, "/") {
			return fmt.Errorf("stressor %q: helper entries cannot be dispatched directly", s.Name)
		}
		if seen[s.Name] {
			return fmt.Errorf("stressor %q appears more than once", s.Name)
		}
		seen[s.Name] = true
		if s.Workers == nil || *s.Workers < 1 {
			return fmt.Errorf("stressor %q: workers must be at least 1", s.Name)
		}
	}
	return nil
}

// Duration wraps time.Duration with YAML text (un)marshalling and a
// record of whether the value was explicitly set.
type Duration struct {
	time.Duration
	explicit bool
}

// NewDuration returns a Duration that reports IsSet.
func NewDuration(d time.Duration) Duration {
	return Duration{Duration: d, explicit: true}
}

func (d *Duration) UnmarshalText(text []byte) error {
	d.explicit = true
	s := strings.TrimSpace(string(text))
	if s == "" {
		d.Duration = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// IsSet reports whether the value was present in the manifest.
func (d Duration) IsSet() bool { return d.explicit }
