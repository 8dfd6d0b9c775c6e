package workflow

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyedLock_SerialisesPerKey(t *testing.T) {
	locks := newKeyedLock()
	counters := map[string]int{}
	var mu sync.Mutex

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		for _, key := range []string{"CR-1", "CR-2"} {
			wg.Add(1)
			go func(key string) {
				defer wg.Done()
				unlock := locks.Lock(key)
				defer unlock()

				mu.Lock()
				v := counters[key]
				mu.Unlock()

				mu.Lock()
				counters[key] = v + 1
				mu.Unlock()
			}(key)
		}
	}
	wg.Wait()

	assert.Equal(t, 50, counters["CR-1"])
	assert.Equal(t, 50, counters["CR-2"])
	assert.Zero(t, locks.size(), "idle keys are released")
}
