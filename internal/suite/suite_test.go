package suite

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/simctl/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const smokeSuite = `
name: smoke
duration: 250ms
fail_fast: true
tests:
  - id: SuccessTest
    class: success
    properties:
      tick: "5ms"
  - id: FailingTest
    properties:
      class: failing
`

func TestParseSuite(t *testing.T) {
	testlog.Start(t)
	s, err := Parse([]byte(smokeSuite))
	require.NoError(t, err)
	assert.Equal(t, "smoke", s.Name)
	assert.Equal(t, 250*time.Millisecond, s.Duration)
	assert.True(t, s.FailFast)
	require.Len(t, s.Tests, 2)
	assert.Equal(t, "SuccessTest", s.Tests[0].ID)
	assert.Equal(t, "success", s.Tests[0].Class())
	assert.Equal(t, "5ms", s.Tests[0].Properties["tick"])
	assert.Equal(t, "failing", s.Tests[1].Class())
}

func TestParseRejectsInvalidSuites(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"no tests":     "name: x\n",
		"bad id":       "tests:\n  - id: \"%&/?!\"\n    class: success\n",
		"no class":     "tests:\n  - id: A\n",
		"bad duration": "duration: soon\ntests:\n  - id: A\n    class: success\n",
		"bad yaml":     "tests: [",
	}
	for name, doc := range cases {
		_, err := Parse([]byte(doc))
		assert.ErrorIs(t, err, ErrInvalidSuite, name)
	}
	_, err := Parse([]byte("tests:\n  - id: A\n    class: success\n  - id: A\n    class: success\n"))
	assert.ErrorIs(t, err, ErrDuplicateID)
}

func TestLoadDefaultsNameToFile(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "nightly.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tests:\n  - id: A\n    class: success\n"), 0o644))
	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "nightly", s.Name)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
