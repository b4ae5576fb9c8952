package secure

import (
	"errors"
	"sync"

	"github.com/awnumar/memguard"
)

// ErrSealedDestroyed is returned by Open after Destroy.
var ErrSealedDestroyed = errors.New("sealed value destroyed")

// Sealed keeps sensitive data encrypted at rest in memory.
// It wraps memguard.Enclave: the ciphertext may live on the ordinary heap,
// and plaintext only exists inside the String returned by Open.
type Sealed struct {
	mu sync.RWMutex
	// enclave is nil for an empty value.
	enclave   *memguard.Enclave
	size      int
	destroyed bool
}

// Seal encrypts the contents of s and destroys s.
func Seal(s *String) *Sealed {
	sealed := &Sealed{}
	if s == nil {
		return sealed
	}

	s.mu.Lock()
	if !s.destroyed && s.buf.Size() > 0 {
		sealed.size = s.buf.Size()
		// NewEnclave wipes its source, so the region must be writable.
		s.buf.Melt()
		sealed.enclave = memguard.NewEnclave(s.buf.Bytes())
	}
	s.mu.Unlock()

	s.Destroy()
	return sealed
}

// SealBytes encrypts data and wipes it.
func SealBytes(data []byte) *Sealed {
	return Seal(NewStringFromBytes(data))
}

// Open decrypts the sealed value into a new String. The caller owns the
// returned String and must Destroy it. Opening a destroyed Sealed fails with
// ErrSealedDestroyed.
func (s *Sealed) Open() (*String, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.destroyed {
		return nil, ErrSealedDestroyed
	}
	if s.enclave == nil {
		return newString(memguard.NewBuffer(0)), nil
	}

	locked, err := s.enclave.Open()
	if err != nil {
		return nil, err
	}
	return newString(locked), nil
}

// Size returns the plaintext length in bytes.
func (s *Sealed) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.destroyed {
		return 0
	}
	return s.size
}

// Destroy drops the ciphertext and prevents further use.
// This method is idempotent. The ciphertext is safe even without explicit
// destruction since it is encrypted; Purge at exit removes the key material.
func (s *Sealed) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return
	}
	s.enclave = nil
	s.size = 0
	s.destroyed = true
}
