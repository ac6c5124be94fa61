package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return Wrap(rdb), mr
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Host != "localhost" {
		t.Errorf("Expected host 'localhost', got '%s'", cfg.Host)
	}
	if cfg.Port != 6379 {
		t.Errorf("Expected port 6379, got %d", cfg.Port)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("Expected max retries 3, got %d", cfg.MaxRetries)
	}
	if cfg.Addr() != "localhost:6379" {
		t.Errorf("Unexpected addr %s", cfg.Addr())
	}
}

func TestNewClient_InvalidConfig(t *testing.T) {
	cfg := &Config{
		Host:          "127.0.0.1",
		Port:          1,
		MaxRetries:    0,
		RetryInterval: 10 * time.Millisecond,
		DialTimeout:   200 * time.Millisecond,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := NewClient(ctx, cfg); err == nil {
		t.Error("Expected error for unreachable redis, got nil")
	}
}

func TestComputeSHA1(t *testing.T) {
	sha := computeSHA1("return 1")
	if len(sha) != 40 {
		t.Errorf("Expected SHA1 length 40, got %d", len(sha))
	}
	if sha != computeSHA1("return 1") {
		t.Error("SHA1 should be deterministic")
	}
	if sha == computeSHA1("return 2") {
		t.Error("Different scripts should have different SHAs")
	}
}

func TestIsNoScriptError(t *testing.T) {
	tests := []struct {
		err      error
		expected bool
	}{
		{nil, false},
		{errors.New("NOSCRIPT No matching script. Please use EVAL."), true},
		{errors.New("NOSCRIPT"), true},
		{errors.New("ERR wrong number of arguments"), false},
	}

	for _, tt := range tests {
		if got := isNoScriptError(tt.err); got != tt.expected {
			t.Errorf("isNoScriptError(%v) = %v, want %v", tt.err, got, tt.expected)
		}
	}
}

func TestEvalWithFallback_ReloadsAfterFlush(t *testing.T) {
	client, mr := newTestClient(t)
	ctx := context.Background()
	script := "return redis.call('INCRBY', KEYS[1], ARGV[1])"

	got, err := client.EvalWithFallback(ctx, "incr", script, []string{"counter"}, 2).Int64()
	if err != nil {
		t.Fatalf("first eval failed: %v", err)
	}
	if got != 2 {
		t.Errorf("Expected 2, got %d", got)
	}
	if _, ok := client.GetScriptSHA("incr"); !ok {
		t.Fatal("Expected script SHA to be cached")
	}

	mr.FlushAll()
	if err := client.Client().ScriptFlush(ctx).Err(); err != nil {
		t.Fatalf("script flush failed: %v", err)
	}

	got, err = client.EvalWithFallback(ctx, "incr", script, []string{"counter"}, 3).Int64()
	if err != nil {
		t.Fatalf("eval after flush failed: %v", err)
	}
	if got != 3 {
		t.Errorf("Expected 3 after flush, got %d", got)
	}
}

func TestHealthCheck(t *testing.T) {
	client, _ := newTestClient(t)
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck failed: %v", err)
	}
}
