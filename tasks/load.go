package tasks

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// DefaultLoadIterations is the size of the simulated CPU load.
const DefaultLoadIterations = 100000

// SimulateLoad returns a job that sums i*i for i in [0, iterations) and
// stores the total under "load_test_<uuid>".
func SimulateLoad(iterations int, ttl time.Duration) Job {
	if iterations <= 0 {
		iterations = DefaultLoadIterations
	}
	return Job{
		Key: "load_test_" + uuid.NewString(),
		TTL: ttl,
		Run: func(ctx context.Context) (string, error) {
			var total int64
			for i := 0; i < iterations; i++ {
				if i%10000 == 0 && ctx.Err() != nil {
					return "", ctx.Err()
				}
				total += int64(i) * int64(i)
			}
			return strconv.FormatInt(total, 10), nil
		},
	}
}
