package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/trustcore"
	"github.com/MrEthical07/trustcore/store"
	"github.com/MrEthical07/trustcore/store/memory"
	"github.com/MrEthical07/trustcore/store/redisstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const (
	loadPassword  = "Correct#Horse1"
	wrongPassword = "Wrong#Horse1"
)

func main() {
	var (
		sessions    = flag.Int("sessions", 200, "number of sessions to seed for the refresh phase")
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		ops         = flag.Int("ops", 5000, "operations per phase")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "tc-load", "session key prefix")
	)
	flag.Parse()

	if *sessions <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "sessions, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	cfg := trustcore.DefaultConfig()
	cfg.JWT.PrivateKey = []byte("loadtest-signing-key-0123456789abcdef")
	cfg.Password.Algorithm = trustcore.PasswordBcrypt
	cfg.Password.BcryptCost = 4
	cfg.Lockout.Threshold = *ops * 2
	cfg.Identity.MaxUpdateRetries = *concurrency * 4

	identities := memory.New()
	engine, err := trustcore.New().
		WithConfig(cfg).
		WithStore(identities).
		WithSessionStore(redisstore.New(client, *prefix)).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	profile, err := engine.Register(ctx, trustcore.RegisterInput{
		Username: "loadtest",
		Email:    "loadtest@example.com",
		Password: loadPassword,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "register: %v\n", err)
		os.Exit(1)
	}

	failureStats := runFailurePhase(ctx, engine, *ops, *concurrency)
	rec, err := identities.FindByID(ctx, profile.ID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read counter: %v\n", err)
		os.Exit(1)
	}
	lost := int64(failureStats.ops) - failureStats.failures - int64(rec.FailedLoginAttempts)

	if err := engine.UnlockIdentity(ctx, mustAdmin(ctx, engine, identities), profile.ID); err != nil {
		fmt.Fprintf(os.Stderr, "reset counter: %v\n", err)
		os.Exit(1)
	}

	tokens := make([]string, *sessions)
	fmt.Printf("seeding %d sessions...\n", *sessions)
	startSeed := time.Now()
	for i := range tokens {
		res, err := engine.Login(ctx, "loadtest@example.com", loadPassword)
		if err != nil {
			fmt.Fprintf(os.Stderr, "login failed: %v\n", err)
			os.Exit(1)
		}
		tokens[i] = res.RefreshToken
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	refreshStats, swept := runRefreshPhase(ctx, engine, tokens, *ops, *concurrency)

	fmt.Println("---- results ----")
	printStats("wrong-password", failureStats)
	fmt.Printf("wrong-password: counter=%d lost_increments=%d\n", rec.FailedLoginAttempts, lost)
	printStats("refresh", refreshStats)
	fmt.Printf("refresh: concurrent sweeps=%d\n", swept)
	if lost != 0 {
		os.Exit(1)
	}
}

// mustAdmin registers an admin identity used to reset the load identity.
func mustAdmin(ctx context.Context, engine *trustcore.Engine, identities *memory.Store) string {
	p, err := engine.Register(ctx, trustcore.RegisterInput{
		Username: "loadadmin",
		Email:    "loadadmin@example.com",
		Password: loadPassword,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "register admin: %v\n", err)
		os.Exit(1)
	}
	rec, err := identities.FindByID(ctx, p.ID)
	if err == nil {
		rec.Role = store.RoleAdmin
		err = identities.UpdateIdentity(ctx, rec)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "promote admin: %v\n", err)
		os.Exit(1)
	}
	return p.ID
}

// runFailurePhase hammers one identity with wrong passwords. Every call
// that returns ErrCredentialsInvalid must be reflected in the counter.
func runFailurePhase(ctx context.Context, engine *trustcore.Engine, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				_, err := engine.Login(ctx, "loadtest@example.com", wrongPassword)
				d := time.Since(t0)
				if !errors.Is(err, trustcore.ErrCredentialsInvalid) {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

// runRefreshPhase refreshes random sessions while a sweeper runs alongside.
// Nothing has expired, so every refresh must succeed.
func runRefreshPhase(ctx context.Context, engine *trustcore.Engine, tokens []string, ops, concurrency int) (phaseStats, int64) {
	var (
		cursor    int64
		failures  int64
		sweeps    int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	workCtx, stopSweeping := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(workCtx)
	g.Go(func() error {
		for gctx.Err() == nil {
			if _, err := engine.SweepExpired(gctx); err != nil && gctx.Err() == nil {
				return err
			}
			atomic.AddInt64(&sweeps, 1)
			time.Sleep(time.Millisecond)
		}
		return nil
	})

	var workers sync.WaitGroup
	start := time.Now()
	for w := 0; w < concurrency; w++ {
		workers.Add(1)
		go func(worker int) {
			defer workers.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*6151))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				_, err := engine.Refresh(ctx, tokens[r.Intn(len(tokens))])
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	workers.Wait()
	total := time.Since(start)

	stopSweeping()
	if err := g.Wait(); err != nil {
		fmt.Fprintf(os.Stderr, "sweeper failed: %v\n", err)
	}
	return computeStats(total, latencies, failures), atomic.LoadInt64(&sweeps)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
