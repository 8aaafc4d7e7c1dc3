package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingBufferBasicWrite(t *testing.T) {
	rb := NewRingBuffer(64)
	n, err := rb.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, []byte("hello"), rb.Bytes())
}

func TestRingBufferWrapsAround(t *testing.T) {
	rb := NewRingBuffer(8)
	_, err := rb.Write([]byte("abcdef"))
	require.NoError(t, err)
	_, err = rb.Write([]byte("ghij"))
	require.NoError(t, err)
	// Capacity 8: only the most recent 8 bytes survive, oldest first.
	assert.Equal(t, []byte("cdefghij"), rb.Bytes())
}

func TestRingBufferOversizedWrite(t *testing.T) {
	rb := NewRingBuffer(4)
	_, err := rb.Write([]byte("0123456789"))
	require.NoError(t, err)
	assert.Equal(t, []byte("6789"), rb.Bytes())
}

func TestRingBufferExactFill(t *testing.T) {
	rb := NewRingBuffer(4)
	_, err := rb.Write([]byte("abcd"))
	require.NoError(t, err)
	assert.Equal(t, []byte("abcd"), rb.Bytes())
	_, err = rb.Write([]byte("e"))
	require.NoError(t, err)
	assert.Equal(t, []byte("bcde"), rb.Bytes())
}

func TestRingBufferDumpToFile(t *testing.T) {
	rb := NewRingBuffer(64)
	_, err := rb.Write([]byte("dump me"))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "dump.log")
	require.NoError(t, rb.DumpToFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("dump me"), data)
}
