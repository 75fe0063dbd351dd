package toolchain

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextSerial(t *testing.T) {
	t.Run("existing counter", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "rootCa.srl")
		require.NoError(t, os.WriteFile(path, []byte("0F\n"), 0o644))

		serial, err := NextSerial(path, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(16), serial.Int64())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "10\n", string(data))
	})

	t.Run("missing counter is seeded", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "rootCa.srl")

		first, err := NextSerial(path, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, first.Sign())

		second, err := NextSerial(path, nil)
		require.NoError(t, err)
		assert.Equal(t, new(big.Int).Add(first, big.NewInt(1)), second)
	})

	t.Run("malformed counter", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "rootCa.srl")
		require.NoError(t, os.WriteFile(path, []byte("not-hex"), 0o644))

		_, err := NextSerial(path, nil)
		assert.Error(t, err)
	})
}

func TestFormatSerial(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{1, "01"},
		{255, "FF"},
		{256, "0100"},
		{0xabcde, "0ABCDE"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatSerial(big.NewInt(tt.in)))
	}
}
