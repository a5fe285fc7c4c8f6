package presets

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func TestNewInMemoryStandalone(t *testing.T) {
	c := NewInMemoryStandalone()
	defer c.Close()
	ctx := context.Background()

	if _, err := c.Execute(ctx, "SET", "foo", "bar"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	val, err := c.Execute(ctx, "GET", "foo")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if val != "bar" {
		t.Fatalf("expected bar, got %v", val)
	}
}

func TestNewRedisResilient(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	defer mr.Close()

	c, err := NewRedisResilient(RedisOptions{Addr: mr.Addr(), DB: 2, Prefix: "p:"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer c.Close()
	if c.Config().RetryCount != 3 {
		t.Fatalf("unexpected retry count %d", c.Config().RetryCount)
	}
	ctx := context.Background()
	if _, err := c.Execute(ctx, "SET", "foo", "bar"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if got, err := mr.DB(2).Get("p:foo"); err != nil || got != "bar" {
		t.Fatalf("expected bar in db 2, got %q %v", got, err)
	}
}

func TestNewRedisFailFastBadAddr(t *testing.T) {
	if _, err := NewRedisFailFast(RedisOptions{Addr: "no-port"}); err == nil {
		t.Fatal("expected address error")
	}
}
