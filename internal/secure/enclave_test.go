package secure

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSecureBuffer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		data    []byte
		wantErr bool
	}{
		{name: "text key", data: []byte("my-secret-password")},
		{name: "binary key", data: []byte{0x00, 0xFF, 0x10, 0x20}},
		{name: "empty input rejected", data: []byte{}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			size := len(tt.data)
			buf, err := NewSecureBuffer(tt.data)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer buf.Destroy()
			assert.Equal(t, size, buf.Size())
		})
	}
}

func TestSecureBuffer_OpenRoundTrip(t *testing.T) {
	t.Parallel()

	expected := []byte("super-secret-data")
	buf, err := NewSecureBuffer([]byte("super-secret-data"))
	require.NoError(t, err)
	defer buf.Destroy()

	for i := 0; i < 3; i++ {
		locked, err := buf.Open()
		require.NoError(t, err)
		assert.True(t, bytes.Equal(expected, locked.Bytes()), "open %d", i)
		locked.Destroy()
	}
}

func TestSecureBuffer_WithOpen(t *testing.T) {
	t.Parallel()

	buf, err := NewSecureBuffer([]byte("key-bytes"))
	require.NoError(t, err)
	defer buf.Destroy()

	var seen string
	err = buf.WithOpen(func(raw []byte) error {
		seen = string(raw)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "key-bytes", seen)

	sentinel := errors.New("boom")
	err = buf.WithOpen(func([]byte) error { return sentinel })
	assert.ErrorIs(t, err, sentinel)
}

func TestSecureBuffer_DestroyIsIdempotent(t *testing.T) {
	t.Parallel()

	buf, err := NewSecureBuffer([]byte("secret-to-destroy"))
	require.NoError(t, err)

	buf.Destroy()
	buf.Destroy()

	_, err = buf.Open()
	assert.ErrorIs(t, err, ErrDestroyed)
	assert.ErrorIs(t, buf.WithOpen(func([]byte) error { return nil }), ErrDestroyed)
}

func TestSecureBuffer_WipesSource(t *testing.T) {
	t.Parallel()

	src := []byte("wipe-me")
	buf, err := NewSecureBuffer(src)
	require.NoError(t, err)
	defer buf.Destroy()

	assert.Equal(t, make([]byte, len(src)), src)
}

func TestSecureBuffer_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	buf, err := NewSecureBuffer([]byte("concurrent-secret"))
	require.NoError(t, err)
	defer buf.Destroy()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := buf.WithOpen(func(raw []byte) error {
				if string(raw) != "concurrent-secret" {
					return errors.New("unexpected plaintext")
				}
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
}
