package sysmon

import (
	"context"
	"runtime"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectReportsHost(t *testing.T) {
	p, err := Detect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, strconv.IntSize/8, p.WordSize)
	assert.Equal(t, runtime.GOOS == "linux", p.Linux())
	if runtime.GOOS == "linux" {
		assert.Equal(t, "Linux", p.OS)
		assert.NotEmpty(t, p.Arch)
	}
}

func TestLinuxIsCaseInsensitive(t *testing.T) {
	assert.True(t, Platform{OS: "linux"}.Linux())
	assert.True(t, Platform{OS: " Linux "}.Linux())
	assert.False(t, Platform{OS: "Darwin"}.Linux())
}
