// Package secure provides memory-safe handling of sensitive data.
//
// This package wraps the memguard library so that secret values and vault
// configuration never live in ordinary Go heap memory. Sensitive data is:
//
//   - Held in mlocked pages that are never swapped to disk
//   - Surrounded by guard pages that detect buffer overflows
//   - Overwritten with zeros when destroyed
//   - Encrypted at rest (XSalsa20Poly1305) when sealed for later use
//
// # Usage
//
// Move sensitive bytes into a zeroizing container. The source slice is wiped:
//
//	s := secure.NewStringFromBytes(raw) // raw is now all zeros
//	defer s.Destroy()
//
//	err := s.Use(func(b []byte) error {
//	    return send(b)
//	})
//
// Containers format as [REDACTED] under every fmt verb and encoder, so an
// accidental log.Printf("%v", s) does not leak the value.
//
// Duplicating a container is only possible through Clone, which produces an
// independent protected copy that is zeroized on its own Destroy.
//
// # Lifetime
//
// Go has no destructors. Callers should Destroy containers as soon as they are
// done with them. Containers that become unreachable without being destroyed
// are wiped by a runtime cleanup, and Purge wipes everything at process exit.
//
// # Platform Behavior
//
// Memory locking behavior varies by platform:
//
//   - Linux: Requires RLIMIT_MEMLOCK to be set appropriately
//   - macOS: Works out of the box
//   - Windows: Uses VirtualLock
//
// It does NOT protect against:
//
//   - Attackers with root access to the running process
//   - Hardware-level attacks (cold boot, DMA)
//   - Copies made by code that reads the plaintext (SDK request bodies, etc.)
package secure
