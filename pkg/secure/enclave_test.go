package secure

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeal_Open(t *testing.T) {
	t.Parallel()

	secret := NewString("super-secret-data")
	sealed := Seal(secret)
	defer sealed.Destroy()

	assert.True(t, secret.IsDestroyed(), "Seal consumes its input")
	assert.Equal(t, len("super-secret-data"), sealed.Size())

	opened, err := sealed.Open()
	require.NoError(t, err)
	defer opened.Destroy()

	assert.True(t, opened.Equal("super-secret-data"))
}

func TestSealed_MultipleOpens(t *testing.T) {
	t.Parallel()

	sealed := SealBytes([]byte("test-secret"))
	defer sealed.Destroy()

	// Every Open yields a fresh container; destroying one leaves the rest intact.
	for i := 0; i < 3; i++ {
		opened, err := sealed.Open()
		require.NoError(t, err, "iteration %d", i)
		assert.True(t, opened.Equal("test-secret"), "iteration %d", i)
		opened.Destroy()
	}
}

func TestSealBytes_WipesSource(t *testing.T) {
	t.Parallel()

	src := []byte("wipe-me")
	sealed := SealBytes(src)
	defer sealed.Destroy()

	assert.True(t, bytes.Equal(make([]byte, len(src)), src))
}

func TestSealed_Empty(t *testing.T) {
	t.Parallel()

	sealed := SealBytes(nil)
	defer sealed.Destroy()

	opened, err := sealed.Open()
	require.NoError(t, err)
	defer opened.Destroy()
	assert.Equal(t, 0, opened.Len())
}

func TestSealed_Destroy(t *testing.T) {
	t.Parallel()

	sealed := SealBytes([]byte("secret-to-destroy"))
	sealed.Destroy()
	sealed.Destroy()

	assert.Equal(t, 0, sealed.Size())
	opened, err := sealed.Open()
	assert.ErrorIs(t, err, ErrSealedDestroyed)
	assert.Nil(t, opened)
}

func TestSealed_OpenedStringDestroys(t *testing.T) {
	t.Parallel()

	sealed := Seal(NewString("reopened-secret"))
	defer sealed.Destroy()

	opened, err := sealed.Open()
	require.NoError(t, err)

	var observed []byte
	opened.onWipe = func(region []byte) {
		observed = append([]byte(nil), region...)
	}
	opened.Destroy()

	assert.Equal(t, make([]byte, len("reopened-secret")), observed)
	assert.True(t, opened.IsDestroyed())

	again, err := sealed.Open()
	require.NoError(t, err)
	defer again.Destroy()
	assert.True(t, again.Equal("reopened-secret"))
}

func TestSeal_DestroyedInput(t *testing.T) {
	t.Parallel()

	s := NewString("gone")
	s.Destroy()

	sealed := Seal(s)
	defer sealed.Destroy()
	assert.Equal(t, 0, sealed.Size())
}

func TestWipe(t *testing.T) {
	t.Parallel()

	b := []byte("plaintext")
	Wipe(b)
	assert.Equal(t, make([]byte, len("plaintext")), b)
}
