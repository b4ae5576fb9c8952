package secure

import (
	"crypto/subtle"
	"fmt"
	"io"
	"runtime"
	"sync"

	"github.com/awnumar/memguard"
)

const redacted = "[REDACTED]"

// String is a self-zeroizing container for sensitive text such as secret
// values and vault configuration.
//
// The plaintext lives in a memguard.LockedBuffer. Destroy overwrites the
// region with zeros before releasing it. A String must not be copied by value
// (it carries a mutex, so go vet flags copies); use Clone to duplicate it.
type String struct {
	mu        sync.RWMutex
	buf       *memguard.LockedBuffer
	destroyed bool

	// onWipe observes the region after it is zeroed and before it is released.
	onWipe func(region []byte)
}

// NewStringFromBytes moves data into protected memory. The data slice is
// wiped before NewStringFromBytes returns.
func NewStringFromBytes(data []byte) *String {
	return newString(memguard.NewBufferFromBytes(data))
}

// NewString copies s into protected memory. Go strings are immutable, so the
// original cannot be wiped; prefer NewStringFromBytes when the source is a
// byte slice the caller owns.
func NewString(s string) *String {
	b := make([]byte, len(s))
	copy(b, s)
	return NewStringFromBytes(b)
}

func newString(buf *memguard.LockedBuffer) *String {
	s := &String{buf: buf}
	runtime.AddCleanup(s, func(b *memguard.LockedBuffer) {
		b.Destroy()
	}, buf)
	return s
}

// Bytes returns a view of the protected plaintext. The view is only valid
// until Destroy is called and must not be retained or modified. Returns nil
// after Destroy.
func (s *String) Bytes() []byte {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.destroyed {
		return nil
	}
	return s.buf.Bytes()
}

// Use calls fn with the protected plaintext. The container cannot be
// destroyed while fn runs.
func (s *String) Use(fn func(b []byte) error) error {
	if s == nil {
		return fn(nil)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.destroyed {
		return fn(nil)
	}
	return fn(s.buf.Bytes())
}

// Len returns the length of the plaintext in bytes.
func (s *String) Len() int {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.destroyed {
		return 0
	}
	return s.buf.Size()
}

// Equal reports whether the plaintext equals other, in constant time.
func (s *String) Equal(other string) bool {
	var eq bool
	_ = s.Use(func(b []byte) error {
		eq = len(b) == len(other) && subtle.ConstantTimeCompare(b, []byte(other)) == 1
		return nil
	})
	return eq
}

// Clone returns an independent protected copy. Destroying either container
// leaves the other intact.
func (s *String) Clone() *String {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.destroyed {
		return newString(memguard.NewBuffer(0))
	}
	dup := memguard.NewBuffer(s.buf.Size())
	if s.buf.Size() > 0 {
		dup.Copy(s.buf.Bytes())
	}
	dup.Freeze()
	return newString(dup)
}

// Destroy zeroizes and releases the protected memory. It is idempotent.
func (s *String) Destroy() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return
	}
	// Buffers from NewBufferFromBytes and Enclave.Open are read-only.
	s.buf.Melt()
	region := s.buf.Bytes()
	memguard.WipeBytes(region)
	if s.onWipe != nil {
		s.onWipe(region)
	}
	s.buf.Destroy()
	s.destroyed = true
}

// IsDestroyed reports whether Destroy has been called.
func (s *String) IsDestroyed() bool {
	if s == nil {
		return true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.destroyed
}

// String implements fmt.Stringer and never reveals the plaintext.
func (s *String) String() string {
	return redacted
}

// GoString implements fmt.GoStringer for %#v formatting.
func (s *String) GoString() string {
	return redacted
}

// Format implements fmt.Formatter so every verb prints the redaction marker.
func (s *String) Format(f fmt.State, _ rune) {
	_, _ = io.WriteString(f, redacted)
}

// MarshalJSON keeps the plaintext out of JSON encodings.
func (s *String) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redacted + `"`), nil
}

// MarshalText keeps the plaintext out of text encodings (YAML, env files).
func (s *String) MarshalText() ([]byte, error) {
	return []byte(redacted), nil
}

// WriteTo writes the plaintext to w without creating an intermediate heap copy.
func (s *String) WriteTo(w io.Writer) (int64, error) {
	var n int
	err := s.Use(func(b []byte) error {
		var werr error
		n, werr = w.Write(b)
		return werr
	})
	return int64(n), err
}
