package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds Redis connection settings. The message store, signal filter,
// recipient locks, timeout index and inject queue all share one connection.
type Config struct {
	Addr         string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	MinIdleConns int

	// ClusterMode talks to a sharded deployment through Addr as seed node.
	ClusterMode bool
	// SentinelAddrs selects failover through sentinels watching MasterName.
	SentinelAddrs []string
	MasterName    string
}

func (cfg Config) options() *redis.UniversalOptions {
	opts := &redis.UniversalOptions{
		Addrs:        []string{cfg.Addr},
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	}
	if !cfg.ClusterMode && len(cfg.SentinelAddrs) > 0 {
		opts.Addrs = cfg.SentinelAddrs
		opts.MasterName = cfg.MasterName
	}
	return opts
}

// Client is the connection shared by the courier Redis adapters.
type Client struct {
	native redis.UniversalClient
}

// NewClient connects and pings. Cluster mode wins over sentinels.
func NewClient(cfg Config) (*Client, error) {
	opts := cfg.options()

	var rdb redis.UniversalClient
	switch {
	case cfg.ClusterMode:
		rdb = redis.NewClusterClient(opts.Cluster())
	case opts.MasterName != "":
		rdb = redis.NewFailoverClient(opts.Failover())
	default:
		rdb = redis.NewClient(opts.Simple())
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Addr, err)
	}

	return &Client{native: rdb}, nil
}

// NewClientFrom wraps an existing client.
func NewClientFrom(native redis.UniversalClient) *Client {
	return &Client{native: native}
}

// Native exposes the underlying client for pipelines, scripts and sorted sets.
func (c *Client) Native() redis.UniversalClient {
	return c.native
}

// Get returns the string stored at key; a missing key yields redis.Nil.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	return c.native.Get(ctx, key).Result()
}

func (c *Client) Set(ctx context.Context, key, value string, expiration time.Duration) error {
	return c.native.Set(ctx, key, value, expiration).Err()
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	return c.native.Del(ctx, keys...).Err()
}

// SetNX reports whether this call created key. Locks and the signal filter
// rely on it.
func (c *Client) SetNX(ctx context.Context, key, value string, expiration time.Duration) (bool, error) {
	return c.native.SetNX(ctx, key, value, expiration).Result()
}

func (c *Client) Close() error {
	return c.native.Close()
}
