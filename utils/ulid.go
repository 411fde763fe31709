package utils

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var entropyLock sync.Mutex

// GenerateULID returns a new ULID; safe for concurrent use
func GenerateULID() ulid.ULID {
	entropyLock.Lock()
	defer entropyLock.Unlock()

	return ulid.Make()
}

// GenerateULIDString returns a new ULID as a string
func GenerateULIDString() string {
	return GenerateULID().String()
}

// GenerateULIDWithTime returns a ULID whose timestamp is t
func GenerateULIDWithTime(t time.Time) ulid.ULID {
	entropyLock.Lock()
	defer entropyLock.Unlock()

	return ulid.MustNew(ulid.Timestamp(t), ulid.DefaultEntropy())
}

// UniqueFileName returns "<ulid><suffix>", used for every object the engine
// writes so that concurrent writers never collide on a name.
func UniqueFileName(suffix string) string {
	return GenerateULIDString() + suffix
}
