// Package queue provides the durable transcode job queue and the metadata
// side cache, both backed by Redis. The queue is a plain list: RPUSH at the
// tail, blocking LPOP at the head, which gives FIFO order and hands each job
// to exactly one worker. Delivery is at-least-once; a worker that dies
// mid-job loses it, and re-enqueueing is an operator action.
package queue

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"mediavault/internal/models"
	"mediavault/internal/observability/metrics"
)

// Job is an alias for the queued work unit.
type Job = models.TranscodeJob

const (
	defaultQueueName = "mediavault:transcode"
	cacheKeyPrefix   = "mediavault:meta:"
	tokenKeyPrefix   = "mediavault:token:used:"
)

// TLSConfig controls TLS behaviour for Redis connections.
type TLSConfig struct {
	CAFile             string
	CertFile           string
	KeyFile            string
	ServerName         string
	InsecureSkipVerify bool
}

// Config configures the Redis-backed queue client.
type Config struct {
	Addr         string
	Addrs        []string
	Username     string
	Password     string
	QueueName    string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	MasterName   string
	TLS          TLSConfig
	Metrics      *metrics.Recorder
	Logger       *slog.Logger
}

// Client wraps the Redis connection shared by the queue, the metadata side
// cache, and the consumed-token set.
type Client struct {
	client  redis.UniversalClient
	queue   string
	metrics *metrics.Recorder
	logger  *slog.Logger
	now     func() time.Time
}

// NewClient connects to Redis. The caller is responsible for ensuring the
// instance is reachable; connection errors surface on first use.
func NewClient(cfg Config) (*Client, error) {
	addrs := make([]string, 0, len(cfg.Addrs)+1)
	for _, addr := range cfg.Addrs {
		if trimmed := strings.TrimSpace(addr); trimmed != "" {
			addrs = append(addrs, trimmed)
		}
	}
	if addr := strings.TrimSpace(cfg.Addr); addr != "" {
		addrs = append(addrs, addr)
	}
	if len(addrs) == 0 {
		return nil, errors.New("redis addr is required")
	}
	queueName := strings.TrimSpace(cfg.QueueName)
	if queueName == "" {
		queueName = defaultQueueName
	}
	tlsConfig, err := buildTLSConfig(cfg.TLS)
	if err != nil {
		return nil, err
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        addrs,
		MasterName:   strings.TrimSpace(cfg.MasterName),
		Username:     strings.TrimSpace(cfg.Username),
		Password:     cfg.Password,
		TLSConfig:    tlsConfig,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   2,
	})
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		client:  client,
		queue:   queueName,
		metrics: recorder,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Close releases the Redis connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// Ping verifies connectivity, used by health checks.
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Enqueue pushes a transcode job carrying the metadata snapshot onto the
// tail of the queue.
func (c *Client) Enqueue(ctx context.Context, assetID string, snapshot map[string]any) (Job, error) {
	if strings.TrimSpace(assetID) == "" {
		return Job{}, errors.New("asset ID is required")
	}
	now := c.now().UTC()
	job := Job{
		ID:         fmt.Sprintf("%s-%d", assetID, now.UnixNano()),
		Type:       models.JobTypeTranscode,
		AssetID:    assetID,
		Metadata:   snapshot,
		EnqueuedAt: now,
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return Job{}, fmt.Errorf("encode job: %w", err)
	}
	if err := c.client.RPush(ctx, c.queue, payload).Err(); err != nil {
		return Job{}, fmt.Errorf("enqueue job: %w", err)
	}
	c.metrics.JobEnqueued()
	return job, nil
}

// Dequeue blocks for up to timeout waiting for the next job. It returns
// (nil, nil) when the wait elapses with an empty queue, so workers can poll
// for shutdown without busy-spinning.
func (c *Client) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	if timeout <= 0 {
		timeout = time.Second
	}
	result, err := c.client.BLPop(ctx, timeout, c.queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("dequeue job: %w", err)
	}
	if len(result) != 2 {
		return nil, fmt.Errorf("unexpected BLPOP reply of %d elements", len(result))
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	c.metrics.JobDequeued()
	return &job, nil
}

// Length reports the current queue backlog.
func (c *Client) Length(ctx context.Context) (int64, error) {
	length, err := c.client.LLen(ctx, c.queue).Result()
	if err != nil {
		return 0, fmt.Errorf("queue length: %w", err)
	}
	return length, nil
}

// CacheMetadata stores a record in the side cache with a TTL. Cache entries
// are never the sole source of truth; the filesystem record is canonical.
func (c *Client) CacheMetadata(ctx context.Context, assetID string, record map[string]any, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode cached metadata: %w", err)
	}
	if err := c.client.Set(ctx, cacheKeyPrefix+assetID, payload, ttl).Err(); err != nil {
		return fmt.Errorf("cache metadata: %w", err)
	}
	return nil
}

// CachedMetadata fetches a record from the side cache. A miss returns
// (nil, nil).
func (c *Client) CachedMetadata(ctx context.Context, assetID string) (map[string]any, error) {
	data, err := c.client.Get(ctx, cacheKeyPrefix+assetID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("read cached metadata: %w", err)
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, fmt.Errorf("decode cached metadata: %w", err)
	}
	return record, nil
}

// InvalidateMetadata drops a record from the side cache.
func (c *Client) InvalidateMetadata(ctx context.Context, assetID string) error {
	if err := c.client.Del(ctx, cacheKeyPrefix+assetID).Err(); err != nil {
		return fmt.Errorf("invalidate cached metadata: %w", err)
	}
	return nil
}

// ConsumeToken marks a one-time-use token as spent. It returns true when
// this call consumed the token and false when it was already spent. The
// marker expires with the token itself, so the consumed set stays bounded.
func (c *Client) ConsumeToken(ctx context.Context, tokenID string, ttl time.Duration) (bool, error) {
	if strings.TrimSpace(tokenID) == "" {
		return false, errors.New("token ID is required")
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	consumed, err := c.client.SetNX(ctx, tokenKeyPrefix+tokenID, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("consume token: %w", err)
	}
	return consumed, nil
}

func buildTLSConfig(cfg TLSConfig) (*tls.Config, error) {
	if cfg.CAFile == "" && cfg.CertFile == "" && cfg.KeyFile == "" && cfg.ServerName == "" && !cfg.InsecureSkipVerify {
		return nil, nil
	}
	tlsConfig := &tls.Config{
		ServerName:         strings.TrimSpace(cfg.ServerName),
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}
	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read redis CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("parse redis CA file %s", cfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	}
	if (cfg.CertFile == "") != (cfg.KeyFile == "") {
		return nil, errors.New("redis TLS requires both cert and key files")
	}
	if cfg.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load redis client cert: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}
