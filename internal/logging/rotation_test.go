package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRotatingWriter_Rotates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)

	rw, err := NewRotatingWriter(path, RotationConfig{MaxSizeMB: 1, MaxBackups: 2})
	require.NoError(t, err)
	defer rw.Close()

	chunk := []byte(strings.Repeat("x", 600*1024))
	_, err = rw.Write(chunk)
	require.NoError(t, err)
	_, err = rw.Write(chunk)
	require.NoError(t, err)

	_, err = os.Stat(path + ".1")
	assert.NoError(t, err, "first backup should exist")
	assert.Equal(t, int64(len(chunk)), rw.CurrentSize())
}

func TestRotatingWriter_KeepsMaxBackups(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)

	rw, err := NewRotatingWriter(path, RotationConfig{MaxSizeMB: 1, MaxBackups: 1})
	require.NoError(t, err)
	defer rw.Close()

	chunk := []byte(strings.Repeat("y", 700*1024))
	for i := 0; i < 4; i++ {
		_, err = rw.Write(chunk)
		require.NoError(t, err)
	}

	_, err = os.Stat(path + ".1")
	assert.NoError(t, err)
	_, err = os.Stat(path + ".2")
	assert.True(t, os.IsNotExist(err))
}

func TestRotatingWriter_Compress(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)

	rw, err := NewRotatingWriter(path, RotationConfig{MaxSizeMB: 1, MaxBackups: 2, Compress: true})
	require.NoError(t, err)

	chunk := []byte(strings.Repeat("z", 700*1024))
	_, _ = rw.Write(chunk)
	_, _ = rw.Write(chunk)
	require.NoError(t, rw.Close())

	_, err = os.Stat(path + ".1.gz")
	assert.NoError(t, err)
	_, err = os.Stat(path + ".1")
	assert.True(t, os.IsNotExist(err))
}

func TestRotatingWriter_Disabled(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)

	rw, err := NewRotatingWriter(path, RotationConfig{})
	require.NoError(t, err)
	defer rw.Close()

	chunk := []byte(strings.Repeat("a", 2*1024*1024))
	_, err = rw.Write(chunk)
	require.NoError(t, err)
	_, err = rw.Write(chunk)
	require.NoError(t, err)

	_, err = os.Stat(path + ".1")
	assert.True(t, os.IsNotExist(err))
}

func TestRotatingWriter_WriteAfterClose(t *testing.T) {
	rw, err := NewRotatingWriter(filepath.Join(t.TempDir(), FileName), RotationConfig{})
	require.NoError(t, err)
	require.NoError(t, rw.Close())

	_, err = rw.Write([]byte("late"))
	assert.Error(t, err)
}
