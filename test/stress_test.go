package test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"creditflow/application"
	"creditflow/esign"
	"creditflow/lock"
	"creditflow/oracles"
	"creditflow/sequence"
	"creditflow/signature"
	"creditflow/test/actors"
	"creditflow/test/chaos"
	"creditflow/testinfra"
)

var (
	flDuration    = flag.Duration("duration", 20*time.Second, "how long to run stress")
	flConcurrency = flag.Int("concurrency", 4, "number of concurrent actors per role")
	flChaos       = flag.Bool("chaos", true, "terminate random actor backends")
)

const actorAppName = "creditflow-stress-actors"

func TestStressLifecycle(t *testing.T) {
	dsn := testinfra.DSN(t)
	control := testinfra.Pool(t)

	ctx, cancel := context.WithTimeout(context.Background(), *flDuration+60*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("parse dsn: %v", err)
	}
	cfg.ConnConfig.RuntimeParams["application_name"] = actorAppName
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("actor pool: %v", err)
	}
	defer pool.Close()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	locker := lock.NewRedisLocker(client, lock.Options{Tries: 200}, nil)

	apps := application.NewService(pool, nil, sequence.NewGenerator(pool, nil))
	sigs, err := signature.NewService(pool, nil, "stress-signing-secret", signature.WithLocker(locker))
	if err != nil {
		t.Fatalf("signature service: %v", err)
	}
	pipeline := esign.NewService(pool, nil, sigs, apps, nil, nil)

	reg := &actors.Registry{}
	g, ctx2 := errgroup.WithContext(ctx)
	stop := make(chan struct{})

	for i := 0; i < *flConcurrency; i++ {
		owner := fmt.Sprintf("stress-%d", i)
		g.Go(func() error { return actors.Creator(ctx2, apps, reg, owner, stop) })
		g.Go(func() error { return actors.Mover(ctx2, apps, reg, stop) })
		g.Go(func() error { return actors.Signer(ctx2, apps, pipeline, reg, stop) })
	}
	if *flChaos {
		go chaos.TerminateRandomBackend(ctx2, control, actorAppName, stop)
	}

	deadline := time.Now().Add(*flDuration)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var failed bool
loop:
	for time.Now().Before(deadline) {
		select {
		case <-ctx2.Done():
			break loop
		case <-ticker.C:
			v, err := oracles.Run(ctx2, control)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					break loop
				}
				t.Fatalf("oracle error: %v", err)
			}
			if v != nil {
				failed = true
				dumpRecent(t, ctx2, control)
				t.Fatalf("oracle %s failed. First row: %s", v.Oracle, v.Row)
			}
		}
	}

	close(stop)
	if err := g.Wait(); err != nil && !failed {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("actors errored: %v", err)
		}
	}

	v, err := oracles.Run(context.Background(), control)
	if err != nil {
		t.Fatalf("final oracle run: %v", err)
	}
	if v != nil {
		t.Fatalf("oracle %s failed after stop. First row: %s", v.Oracle, v.Row)
	}
	t.Logf("applications created: %d", reg.Len())
}

func dumpRecent(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	dumps := []struct {
		name string
		sql  string
	}{
		{"timeline_entries", `SELECT id, application_id::text, seq, state, automatic, created_at FROM timeline_entries ORDER BY id DESC LIMIT 50`},
		{"loan_applications", `SELECT id::text, tracking_number, state, updated_at FROM loan_applications ORDER BY updated_at DESC LIMIT 50`},
		{"sequence_counters", `SELECT year, prefix, value, last_used_at FROM sequence_counters`},
		{"outbox", `SELECT id, topic, status, created_at FROM outbox ORDER BY id DESC LIMIT 50`},
	}
	for _, d := range dumps {
		rows, err := pool.Query(ctx, d.sql)
		if err != nil {
			t.Logf("dump %s error: %v", d.name, err)
			continue
		}
		cols := rows.FieldDescriptions()
		t.Logf("-- %s --", d.name)
		for rows.Next() {
			vals, _ := rows.Values()
			buf := make([]any, 0, len(vals))
			for i := range vals {
				buf = append(buf, fmt.Sprintf("%s=%v", cols[i].Name, vals[i]))
			}
			t.Logf("%v", buf)
		}
		rows.Close()
	}
}
