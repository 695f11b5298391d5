package node

import (
	"crypto/rand"
	"time"
)

// loadPatience bounds how long Load waits on a RequestLoad round trip
// before surfacing ErrUnavailable (spec §7).
const loadPatience = 3 * time.Second

func freshSalt() []byte {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		panic(err)
	}
	return salt
}

// waitUntil polls cond until it reports true or timeout elapses, returning
// whether it succeeded. Used by the synchronous convenience surface
// (Load); Query reaches it too when it resolves a covalue's owning group
// through Group, which calls Load.
func waitUntil(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(2 * time.Millisecond)
	}
}
