// Package suite loads test suites: an ordered list of test cases, each a
// test id plus the properties its workload is built from.
package suite

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/danmuck/simctl/internal/worker"
	"github.com/danmuck/simctl/internal/workload"
	"gopkg.in/yaml.v3"
)

var (
	ErrInvalidSuite = errors.New("suite: invalid suite")
	ErrDuplicateID  = errors.New("suite: duplicate test id")
)

// TestCase is one test of a suite.
type TestCase struct {
	ID         string
	Properties map[string]string
}

// Class is the workload type name.
func (tc TestCase) Class() string {
	return tc.Properties[workload.PropertyClass]
}

type Suite struct {
	Name     string
	Duration time.Duration
	FailFast bool
	Tests    []TestCase
}

type fileSuite struct {
	Name     string     `yaml:"name"`
	Duration string     `yaml:"duration"`
	FailFast bool       `yaml:"fail_fast"`
	Tests    []fileTest `yaml:"tests"`
}

type fileTest struct {
	ID         string            `yaml:"id"`
	Class      string            `yaml:"class"`
	Properties map[string]string `yaml:"properties"`
}

// Load reads a YAML suite. The file name is the default suite name.
func Load(path string) (Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Suite{}, fmt.Errorf("suite: read %s: %w", path, err)
	}
	s, err := Parse(data)
	if err != nil {
		return Suite{}, fmt.Errorf("%s: %w", path, err)
	}
	if s.Name == "" {
		s.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return s, nil
}

func Parse(data []byte) (Suite, error) {
	var raw fileSuite
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Suite{}, fmt.Errorf("%w: %v", ErrInvalidSuite, err)
	}
	out := Suite{Name: strings.TrimSpace(raw.Name), FailFast: raw.FailFast}
	if d := strings.TrimSpace(raw.Duration); d != "" {
		parsed, err := time.ParseDuration(d)
		if err != nil || parsed < 0 {
			return Suite{}, fmt.Errorf("%w: duration %q", ErrInvalidSuite, raw.Duration)
		}
		out.Duration = parsed
	}
	if len(raw.Tests) == 0 {
		return Suite{}, fmt.Errorf("%w: no tests", ErrInvalidSuite)
	}

	seen := make(map[string]struct{}, len(raw.Tests))
	for i, t := range raw.Tests {
		id := strings.TrimSpace(t.ID)
		if !worker.ValidTestID(id) {
			return Suite{}, fmt.Errorf("%w: test %d: invalid id %q", ErrInvalidSuite, i, t.ID)
		}
		if _, ok := seen[id]; ok {
			return Suite{}, fmt.Errorf("%w: %s", ErrDuplicateID, id)
		}
		seen[id] = struct{}{}

		props := make(map[string]string, len(t.Properties)+1)
		maps.Copy(props, t.Properties)
		if class := strings.TrimSpace(t.Class); class != "" {
			props[workload.PropertyClass] = class
		}
		if strings.TrimSpace(props[workload.PropertyClass]) == "" {
			return Suite{}, fmt.Errorf("%w: test %s has no class", ErrInvalidSuite, id)
		}
		out.Tests = append(out.Tests, TestCase{ID: id, Properties: props})
	}
	return out, nil
}
