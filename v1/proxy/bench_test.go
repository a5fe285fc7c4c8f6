package proxy

import (
	"context"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/mirkobrombin/go-relay/v1/config"
	"github.com/mirkobrombin/go-relay/v1/conn"
	"github.com/mirkobrombin/go-relay/v1/store"
)

// benchmarkGet measures Execute performance for a GET of an existing key.
func benchmarkGet(b *testing.B, p *Proxy) {
	ctx := context.Background()
	if _, err := p.Execute(ctx, "SET", "key", "val"); err != nil {
		b.Fatalf("setup failed: %v", err)
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := p.Execute(ctx, "GET", "key"); err != nil {
			b.Fatalf("get failed: %v", err)
		}
	}
}

func BenchmarkInMemoryExecute(b *testing.B) {
	srv := store.NewMemoryServer()
	mgr, err := conn.New(config.New("mem"), conn.WithClientFactory(func() store.Client { return srv.Client() }))
	if err != nil {
		b.Fatalf("manager: %v", err)
	}
	p := New(mgr)
	defer p.Close()
	benchmarkGet(b, p)
}

func BenchmarkRedisExecute(b *testing.B) {
	mr, err := miniredis.Run()
	if err != nil {
		b.Fatalf("miniredis run: %v", err)
	}
	defer mr.Close()
	port, _ := strconv.Atoi(mr.Port())
	mgr, err := conn.New(config.New(mr.Host(), config.WithPort(port)))
	if err != nil {
		b.Fatalf("manager: %v", err)
	}
	p := New(mgr)
	defer p.Close()
	benchmarkGet(b, p)
}
