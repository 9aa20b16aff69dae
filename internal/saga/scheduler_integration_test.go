//go:build integration

package saga_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seatreserve/internal/saga"
	"seatreserve/internal/shared/testutil"
)

func TestRedisScheduler(t *testing.T) {
	client := testutil.StartRedis(t)
	ctx := context.Background()
	s := saga.NewRedisScheduler(client)
	require.NoError(t, s.PreloadScripts(ctx))

	base := time.Now().UTC().Truncate(time.Millisecond)

	t.Run("schedule merges scenarios and only extends the deadline", func(t *testing.T) {
		require.NoError(t, s.Schedule(ctx, "R-merge", "scn-1", base.Add(10*time.Second)))
		require.NoError(t, s.Schedule(ctx, "R-merge", "scn-2", base.Add(5*time.Second)))
		require.NoError(t, s.Schedule(ctx, "R-merge", "scn-1", base.Add(10*time.Second)))

		due, err := s.ClaimDue(ctx, base.Add(6*time.Second), 10)
		require.NoError(t, err)
		assert.Empty(t, due, "earlier deadline must not pull the task forward")

		due, err = s.ClaimDue(ctx, base.Add(10*time.Second), 10)
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, "R-merge", due[0].ReservationID)
		assert.ElementsMatch(t, []string{"scn-1", "scn-2"}, due[0].ScenarioIDs)
		assert.True(t, due[0].Deadline().Equal(base.Add(10*time.Second)))
	})

	t.Run("cancel drops the task", func(t *testing.T) {
		require.NoError(t, s.Schedule(ctx, "R-cancel", "scn-1", base))
		require.NoError(t, s.Cancel(ctx, "R-cancel"))

		due, err := s.ClaimDue(ctx, base.Add(time.Hour), 10)
		require.NoError(t, err)
		assert.Empty(t, due)
	})

	t.Run("each due task is claimed once across pollers", func(t *testing.T) {
		const tasks = 20
		for i := 0; i < tasks; i++ {
			require.NoError(t, s.Schedule(ctx, "R-claim-"+string(rune('a'+i)), "scn", base))
		}

		var mu sync.Mutex
		seen := map[string]int{}
		var wg sync.WaitGroup
		for p := 0; p < 4; p++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					due, err := s.ClaimDue(ctx, base.Add(time.Second), 3)
					if !assert.NoError(t, err) || len(due) == 0 {
						return
					}
					mu.Lock()
					for _, task := range due {
						seen[task.ReservationID]++
					}
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Len(t, seen, tasks)
		for id, n := range seen {
			assert.Equal(t, 1, n, id)
		}
	})
}
