package device

import (
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuard(t *testing.T) {
	t.Run("runs the handler then reraises", func(t *testing.T) {
		var mu sync.Mutex
		var order []string
		record := func(s string) {
			mu.Lock()
			order = append(order, s)
			mu.Unlock()
		}

		g := &guard{
			log:     discardLogger(),
			signals: []os.Signal{syscall.SIGUSR2},
			reraise: func(os.Signal) { record("reraise") },
		}
		g.arm(func(os.Signal) { record("close") })
		defer g.disarm()

		require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGUSR2))
		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(order) == 2
		}, 2*time.Second, 10*time.Millisecond)

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, []string{"close", "reraise"}, order)
	})

	t.Run("can be re-armed after firing", func(t *testing.T) {
		fired := make(chan struct{}, 2)
		g := &guard{
			log:     discardLogger(),
			signals: []os.Signal{syscall.SIGUSR2},
			reraise: func(os.Signal) {},
		}
		defer g.disarm()

		for i := 0; i < 2; i++ {
			g.arm(func(os.Signal) { fired <- struct{}{} })
			require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGUSR2))
			select {
			case <-fired:
			case <-time.After(2 * time.Second):
				t.Fatalf("guard did not fire on round %d", i)
			}
			require.Eventually(t, func() bool {
				g.mu.Lock()
				defer g.mu.Unlock()
				return g.ch == nil
			}, time.Second, 5*time.Millisecond)
		}
	})

	t.Run("arm and disarm are idempotent", func(t *testing.T) {
		g := &guard{log: discardLogger(), signals: []os.Signal{syscall.SIGUSR2}, reraise: func(os.Signal) {}}
		g.arm(func(os.Signal) {})
		g.arm(func(os.Signal) {})
		g.disarm()
		g.disarm()
		assert.Nil(t, g.ch)
	})
}
