package protocol

import (
	crand "crypto/rand"
	mrand "math/rand"
	"time"
)

// GenerateNodeID returns a random mesh node id in the range 1-255.
// Id 0 is reserved for the root. If crypto/rand fails (rare on host),
// falls back to math/rand.
func GenerateNodeID() uint8 {
	var b [1]byte
	for {
		if _, err := crand.Read(b[:]); err != nil {
			src := mrand.NewSource(time.Now().UnixNano())
			return uint8(mrand.New(src).Intn(255) + 1)
		}
		if b[0] != 0 {
			return b[0]
		}
	}
}
