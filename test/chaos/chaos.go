package chaos

import (
	"context"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TerminateRandomBackend periodically kills one backend whose
// application_name matches appName. The control pool is never a target.
func TerminateRandomBackend(ctx context.Context, control *pgxpool.Pool, appName string, stop <-chan struct{}) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if rand.Intn(5) == 0 {
				_, _ = control.Exec(ctx, `SELECT pg_terminate_backend(pid) FROM pg_stat_activity
                                          WHERE datname = current_database() AND application_name = $1
                                          ORDER BY random() LIMIT 1`, appName)
			}
		}
	}
}
