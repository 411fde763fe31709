package utils

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateULIDConcurrent(t *testing.T) {
	const n = 200
	var mu sync.Mutex
	seen := make(map[string]struct{}, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := GenerateULIDString()
			mu.Lock()
			seen[id] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n)
}

func TestGenerateULIDWithTime(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	id := GenerateULIDWithTime(ts)
	assert.Equal(t, ulid.Timestamp(ts), id.Time())
}

func TestUniqueFileName(t *testing.T) {
	name := UniqueFileName(".avro")
	require.True(t, strings.HasSuffix(name, ".avro"))
	_, err := ulid.Parse(strings.TrimSuffix(name, ".avro"))
	assert.NoError(t, err)
}
