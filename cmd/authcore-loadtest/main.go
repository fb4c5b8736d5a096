package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/store/memory"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const loadPassword = "load-test-password"

type account struct {
	email   string
	mu      sync.Mutex
	access  string
	refresh string
}

func main() {
	var (
		users       = flag.Int("users", 1000, "number of accounts to seed")
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		ops         = flag.Int("ops", 20000, "operations per verify and refresh phase")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	)
	flag.Parse()

	if *users <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "users, concurrency, and ops must be > 0")
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
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	cfg := authcore.DefaultConfig()
	cfg.JWT.AccessKey = bytes.Repeat([]byte("A"), 32)
	cfg.JWT.RefreshKey = bytes.Repeat([]byte("R"), 32)
	cfg.Security.Pepper = bytes.Repeat([]byte("P"), 32)
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Metrics.EnableLatencyHistograms = true

	store := memory.New()
	engine, err := authcore.New().
		WithConfig(cfg).
		WithRedis(client).
		WithUserStore(store).
		WithLogger(zap.NewNop()).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	accounts, err := seed(ctx, engine, store, cfg, *users)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
		os.Exit(1)
	}

	verifyStats := runPhase(accounts, *ops, *concurrency, 7919, func(a *account) error {
		a.mu.Lock()
		token := a.access
		a.mu.Unlock()
		_, err := engine.VerifyAccess(ctx, token)
		return err
	})
	refreshStats := runPhase(accounts, *ops, *concurrency, 6151, func(a *account) error {
		a.mu.Lock()
		defer a.mu.Unlock()
		res, err := engine.Refresh(ctx, a.refresh)
		if err != nil {
			return err
		}
		a.access, a.refresh = res.Tokens.AccessToken, res.Tokens.RefreshToken
		return nil
	})

	fmt.Println("---- results ----")
	printStats("verify", verifyStats)
	printStats("refresh", refreshStats)

	snap := engine.MetricsSnapshot()
	fmt.Printf("store degraded: %d\n", snap.Counters[authcore.MetricStoreDegraded])
}

// seed inserts accounts sharing one password digest, then logs each in
// once to obtain a token pair.
func seed(ctx context.Context, engine *authcore.Engine, store *memory.Store, cfg authcore.Config, n int) ([]*account, error) {
	hasher, err := password.NewHasher(password.Config{
		Algorithm: password.AlgArgon2id,
		MinLength: cfg.Password.MinLength,
		MaxLength: cfg.Password.MaxLength,
		Argon2: password.Argon2Params{
			Memory:      cfg.Password.Memory,
			Time:        cfg.Password.Time,
			Parallelism: cfg.Password.Parallelism,
			SaltLength:  cfg.Password.SaltLength,
			KeyLength:   cfg.Password.KeyLength,
		},
	})
	if err != nil {
		return nil, err
	}
	digest, err := hasher.Hash(loadPassword)
	if err != nil {
		return nil, err
	}

	fmt.Printf("seeding %d accounts...\n", n)
	start := time.Now()
	accounts := make([]*account, n)
	for i := range accounts {
		email := fmt.Sprintf("user-%d@load.test", i)
		if _, err := store.InsertUser(ctx, authcore.NewUser{
			Email:         email,
			PasswordHash:  digest,
			Provider:      authcore.ProviderPassword,
			Active:        true,
			EmailVerified: true,
		}); err != nil {
			return nil, err
		}
		res, err := engine.Login(ctx, authcore.LoginRequest{Email: email, Password: loadPassword})
		if err != nil {
			return nil, fmt.Errorf("login %s: %w", email, err)
		}
		accounts[i] = &account{email: email, access: res.Tokens.AccessToken, refresh: res.Tokens.RefreshToken}
	}
	fmt.Printf("seeded in %s\n", time.Since(start).Round(time.Millisecond))
	return accounts, nil
}

func runPhase(accounts []*account, ops, concurrency int, seedMul int64, op func(*account) error) phaseStats {
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
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*seedMul))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				a := accounts[r.Intn(len(accounts))]
				t0 := time.Now()
				err := op(a)
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
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
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
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
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
