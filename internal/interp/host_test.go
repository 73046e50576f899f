package interp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHostExtractsBootstrap(t *testing.T) {
	h, err := NewHost(Options{})
	require.NoError(t, err)
	assert.Equal(t, "python3", h.pythonPath)
	assert.FileExists(t, h.bootstrapPath)
	assert.False(t, h.Running())
}

func TestNewHostHonorsPythonPathOverride(t *testing.T) {
	h, err := NewHost(Options{PythonPath: "/usr/bin/python3.11"})
	require.NoError(t, err)
	assert.Equal(t, "/usr/bin/python3.11", h.pythonPath)
}

func TestHostExecuteBeforeStartErrors(t *testing.T) {
	h, err := NewHost(Options{})
	require.NoError(t, err)

	_, err = h.Execute(nil, "1 + 1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not running")
}

func TestHostStopWithoutStartIsNoop(t *testing.T) {
	h, err := NewHost(Options{})
	require.NoError(t, err)
	assert.NoError(t, h.Stop())
}
