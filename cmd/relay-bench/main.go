package main

import (
	"context"
	"flag"
	"log"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mirkobrombin/go-relay/v1/config"
	"github.com/mirkobrombin/go-relay/v1/presets"
	"github.com/mirkobrombin/go-relay/v1/relay"
	"github.com/mirkobrombin/go-relay/v1/store"
)

var (
	concurrency = flag.Int("c", 50, "Number of concurrent clients")
	requests    = flag.Int("n", 100000, "Total number of requests")
	dataSize    = flag.Int("d", 256, "Data size in bytes")
	addr        = flag.String("addr", "", "Redis address (host:port); empty uses an in-process store")
	locks       = flag.Bool("locks", false, "Benchmark lock/unlock cycles instead of GET")
)

func newClient(shared *store.MemoryServer) (*relay.Client, error) {
	if *addr == "" {
		return relay.NewWithHandle(shared.Client(), config.Config{})
	}
	return presets.NewRedisResilient(presets.RedisOptions{Addr: *addr})
}

func main() {
	flag.Parse()
	if *concurrency <= 0 {
		log.Fatal("concurrency must be positive")
	}
	log.Printf("Starting benchmark: %d requests, %d concurrency, %d bytes payload", *requests, *concurrency, *dataSize)

	shared := store.NewMemoryServer()
	ctx := context.Background()
	key := "bench_key"
	val := make([]byte, *dataSize)
	for i := range val {
		val[i] = 'x'
	}

	clients := make([]*relay.Client, *concurrency)
	for i := range clients {
		c, err := newClient(shared)
		if err != nil {
			log.Fatalf("client: %v", err)
		}
		defer c.Close()
		clients[i] = c
	}
	if _, err := clients[0].Execute(ctx, "SET", key, val); err != nil {
		log.Fatalf("Setup failed: %v", err)
	}

	var ops, errorsCount, acquired int64
	reqsPerWorker := *requests / *concurrency
	start := time.Now()

	var g errgroup.Group
	for i, c := range clients {
		i, c := i, c
		g.Go(func() error {
			for j := 0; j < reqsPerWorker; j++ {
				var err error
				if *locks {
					lockKey := "bench_lock_" + strconv.Itoa(j%16)
					var ok bool
					if ok, err = c.Lock(ctx, lockKey); ok {
						atomic.AddInt64(&acquired, 1)
						_, err = c.Unlock(ctx, lockKey)
					}
				} else {
					_, err = c.Execute(ctx, "GET", key)
				}
				if err != nil {
					atomic.AddInt64(&errorsCount, 1)
					log.Printf("worker %d: %v", i, err)
				}
				atomic.AddInt64(&ops, 1)
			}
			return nil
		})
	}
	_ = g.Wait()
	elapsed := time.Since(start)

	throughput := float64(ops) / elapsed.Seconds()
	avgLatency := elapsed.Seconds() / float64(ops) * 1e9

	log.Printf("Finished in %v", elapsed)
	log.Printf("Throughput: %.2f req/s", throughput)
	log.Printf("Avg Latency: %.2f ns", avgLatency)
	if *locks {
		log.Printf("Locks acquired: %d", acquired)
	}
	if errorsCount > 0 {
		log.Printf("Errors: %d", errorsCount)
	}
}
