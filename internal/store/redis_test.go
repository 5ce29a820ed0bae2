package store

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func TestOpenRedis(t *testing.T) {
	s := miniredis.RunT(t)
	client, err := OpenRedis(context.Background(), "redis://"+s.Addr())
	if err != nil {
		t.Fatalf("OpenRedis failed: %v", err)
	}
	defer client.Close()

	if err := client.Set(context.Background(), "k", "v", 0).Err(); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got, _ := s.Get("k"); got != "v" {
		t.Errorf("expected v, got %q", got)
	}
}

func TestOpenRedisBadURL(t *testing.T) {
	if _, err := OpenRedis(context.Background(), "not a url"); err == nil {
		t.Fatal("expected error for invalid url")
	}
}

func TestOpenRedisUnreachable(t *testing.T) {
	s := miniredis.RunT(t)
	addr := s.Addr()
	s.Close()
	if _, err := OpenRedis(context.Background(), "redis://"+addr); err == nil {
		t.Fatal("expected error for unreachable server")
	}
}
