package redis

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Nil is returned by reads of missing keys
const Nil = redis.Nil

// Config holds Redis connection configuration
type Config struct {
	Host         string
	Port         int
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolTimeout  time.Duration

	// Retry configuration
	MaxRetries    int
	RetryInterval time.Duration
}

// DefaultConfig returns default Redis configuration
func DefaultConfig() *Config {
	return &Config{
		Host:          "localhost",
		Port:          6379,
		PoolSize:      100,
		MinIdleConns:  10,
		DialTimeout:   5 * time.Second,
		ReadTimeout:   3 * time.Second,
		WriteTimeout:  3 * time.Second,
		PoolTimeout:   4 * time.Second,
		MaxRetries:    3,
		RetryInterval: time.Second,
	}
}

// Addr returns the Redis address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Client wraps redis.Client with a Lua script SHA cache
type Client struct {
	client  *redis.Client
	config  *Config
	scripts sync.Map // map[scriptName]*ScriptInfo
}

// NewClient creates a new Redis client, pinging with retries until it answers
func NewClient(ctx context.Context, cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolTimeout:  cfg.PoolTimeout,
	})

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(cfg.RetryInterval)
		}

		if lastErr = client.Ping(ctx).Err(); lastErr == nil {
			return &Client{client: client, config: cfg}, nil
		}
	}

	client.Close()
	return nil, fmt.Errorf("failed to connect to redis after %d attempts: %w", cfg.MaxRetries+1, lastErr)
}

// Wrap adapts an already-connected go-redis client (tests, shared pools)
func Wrap(client *redis.Client) *Client {
	return &Client{client: client, config: DefaultConfig()}
}

// Client returns the underlying redis.Client
func (c *Client) Client() *redis.Client {
	return c.client
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.client.Close()
}

// HealthCheck performs a health check on Redis
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	result, err := c.client.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	if result != "PONG" {
		return fmt.Errorf("redis health check unexpected response: %s", result)
	}
	return nil
}

// --- Lua Script Support ---

// ScriptInfo holds information about a loaded script
type ScriptInfo struct {
	Name   string
	SHA    string
	Script string
}

// computeSHA1 computes SHA1 hash of a script (same as Redis does)
func computeSHA1(script string) string {
	h := sha1.Sum([]byte(script))
	return hex.EncodeToString(h[:])
}

// LoadScript loads a Lua script into Redis and caches its SHA
func (c *Client) LoadScript(ctx context.Context, name, script string) (*ScriptInfo, error) {
	sha, err := c.client.ScriptLoad(ctx, script).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load script %s: %w", name, err)
	}
	if sha != computeSHA1(script) {
		return nil, fmt.Errorf("script %s: server returned unexpected sha %s", name, sha)
	}

	info := &ScriptInfo{Name: name, SHA: sha, Script: script}
	c.scripts.Store(name, info)
	return info, nil
}

// GetScriptSHA returns the cached SHA for a script name
func (c *Client) GetScriptSHA(name string) (string, bool) {
	if info, ok := c.scripts.Load(name); ok {
		return info.(*ScriptInfo).SHA, true
	}
	return "", false
}

// EvalWithFallback runs a cached script by SHA, loading or reloading it when the
// server does not know it (first use, or after SCRIPT FLUSH / failover)
func (c *Client) EvalWithFallback(ctx context.Context, name, script string, keys []string, args ...interface{}) *redis.Cmd {
	sha, ok := c.GetScriptSHA(name)
	if ok {
		result := c.client.EvalSha(ctx, sha, keys, args...)
		if !isNoScriptError(result.Err()) {
			return result
		}
	}

	info, err := c.LoadScript(ctx, name, script)
	if err != nil {
		cmd := redis.NewCmd(ctx)
		cmd.SetErr(err)
		return cmd
	}
	return c.client.EvalSha(ctx, info.SHA, keys, args...)
}

// isNoScriptError checks if error is NOSCRIPT error
func isNoScriptError(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "NOSCRIPT")
}

// --- Key/Value Operations used by idempotency records ---

// Get gets a value by key
func (c *Client) Get(ctx context.Context, key string) *redis.StringCmd {
	return c.client.Get(ctx, key)
}

// Set sets a value with optional expiration
func (c *Client) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	return c.client.Set(ctx, key, value, expiration)
}

// SetNX sets a value only if key doesn't exist
func (c *Client) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	return c.client.SetNX(ctx, key, value, expiration)
}

// Del deletes keys
func (c *Client) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	return c.client.Del(ctx, keys...)
}

// HGetAll gets all fields in a hash
func (c *Client) HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd {
	return c.client.HGetAll(ctx, key)
}

// ZRangeByScore reads members of a sorted set by score range
func (c *Client) ZRangeByScore(ctx context.Context, key string, opt *redis.ZRangeBy) *redis.StringSliceCmd {
	return c.client.ZRangeByScore(ctx, key, opt)
}

// Pipeline returns a pipeline for batch operations
func (c *Client) Pipeline() redis.Pipeliner {
	return c.client.Pipeline()
}
