package config

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string `yaml:"name"`
	Limit int    `yaml:"limit"`
}

func (s *sample) Validate() error {
	if s.Limit < 0 {
		return errors.New("limit must not be negative")
	}
	return nil
}

func TestDecodeExpandsEnv(t *testing.T) {
	t.Setenv("SAMPLE_NAME", "from-env")
	s := sample{Limit: 3}
	require.NoError(t, Decode(strings.NewReader("name: ${SAMPLE_NAME}\n"), &s))
	assert.Equal(t, "from-env", s.Name)
	assert.Equal(t, 3, s.Limit)
}

func TestDecodeRejectsUnknownKeys(t *testing.T) {
	var s sample
	err := Decode(strings.NewReader("name: x\nlimt: 2\n"), &s)
	assert.ErrorContains(t, err, "limt")
}

func TestDecodeEmptyInputValidatesDefaults(t *testing.T) {
	s := sample{Limit: -1}
	assert.ErrorContains(t, Decode(strings.NewReader(""), &s), "validation failed")
}

func TestLoadOptional(t *testing.T) {
	s := sample{Name: "default"}
	require.NoError(t, LoadOptional(filepath.Join(t.TempDir(), "absent.yaml"), &s))
	assert.Equal(t, "default", s.Name)

	err := Load(filepath.Join(t.TempDir(), "absent.yaml"), &s)
	assert.Error(t, err)
}
