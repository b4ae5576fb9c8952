package secure

import "github.com/awnumar/memguard"

// Wipe overwrites b with zeros.
func Wipe(b []byte) {
	memguard.WipeBytes(b)
}

// Purge destroys every protected buffer and the session key used for sealed
// values. Call it on the way out of main.
func Purge() {
	memguard.Purge()
}

// CatchInterrupt purges protected memory and exits when the process receives
// an interrupt signal.
func CatchInterrupt() {
	memguard.CatchInterrupt()
}
