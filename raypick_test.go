package raypick

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClassification(t *testing.T) {
	capErr := &CapacityError{Buffer: "nodes", Needed: 128, Capacity: 64}
	wrapped := fmt.Errorf("upload: %w", capErr)

	assert.True(t, errors.Is(wrapped, ErrCapacity))
	assert.True(t, IsFatal(wrapped))

	var ce *CapacityError
	require.True(t, errors.As(wrapped, &ce))
	assert.Equal(t, uint64(128), ce.Needed)

	empty := fmt.Errorf("build: %w", &EmptyGeometryError{Source: "mesh"})
	assert.True(t, errors.Is(empty, ErrEmptyGeometry))
	assert.False(t, IsFatal(empty))
	assert.False(t, IsFatal(nil))
	assert.True(t, IsFatal(ErrUninitialized))
}

func TestDefaultLoggerLevels(t *testing.T) {
	var out, errOut bytes.Buffer
	l := NewWriterLogger("pick", false, &out, &errOut)

	l.Debugf("hidden %d", 1)
	assert.Empty(t, out.String())

	l.SetDebug(true)
	l.Debugf("shown %d", 2)
	l.Infof("info")
	l.Warnf("warn")
	l.Errorf("err")

	assert.Contains(t, out.String(), "[pick] DEBUG: shown 2")
	assert.Contains(t, out.String(), "[pick] INFO: info")
	assert.Contains(t, errOut.String(), "[pick] WARN: warn")
	assert.Contains(t, errOut.String(), "[pick] ERROR: err")
}

func TestOrNop(t *testing.T) {
	l := OrNop(nil)
	require.NotNil(t, l)
	assert.False(t, l.DebugEnabled())

	d := NewDefaultLogger("", false)
	assert.Same(t, d, OrNop(d))
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	path := filepath.Join(t.TempDir(), "pick.yaml")
	data := []byte("picker:\n  max_instances: 4\n  max_glyphs: 9\nscene:\n  mesh: sphere\n")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err = LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Picker.MaxInstances)
	assert.Equal(t, 9, cfg.Picker.MaxGlyphs)
	assert.Equal(t, "sphere", cfg.Scene.Mesh)
	assert.Equal(t, 1280, cfg.Window.Width, "unset fields keep defaults")
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Scene.Mesh = "teapot"
	cfg.Picker.MaxInstances = -1
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "teapot")
	assert.Contains(t, err.Error(), "max_instances")
}

func TestConfigRoundTripYAML(t *testing.T) {
	data, err := DefaultConfig().Marshal()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}
