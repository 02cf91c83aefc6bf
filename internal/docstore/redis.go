package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis implements Store on a Redis server. Documents live as JSON
// strings, collections as hashes keyed by child id. Every mutation
// publishes on a per-path pub/sub channel; pub/sub delivers a publish
// back to the publisher's own subscriptions, which gives watches their
// self-echo behavior.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to the Redis server at redisURL.
func NewRedis(redisURL string) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &Redis{client: client}, nil
}

// NewRedisWithClient wraps an existing Redis client.
func NewRedisWithClient(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func docKey(path string) string        { return "doc:" + path }
func collectionKey(path string) string { return "col:" + path }
func watchChannel(path string) string  { return "watch:" + path }

func (s *Redis) Get(ctx context.Context, path string, dst any) (bool, error) {
	body, err := s.client.Get(ctx, docKey(path)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s: %w", path, err)
	}
	if err := json.Unmarshal([]byte(body), dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", path, err)
	}
	return true, nil
}

func (s *Redis) Set(ctx context.Context, path string, doc any) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := s.client.Set(ctx, docKey(path), body, 0).Err(); err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	if err := s.client.Publish(ctx, watchChannel(path), body).Err(); err != nil {
		return fmt.Errorf("notify %s: %w", path, err)
	}
	return nil
}

func (s *Redis) Update(ctx context.Context, path string, fields map[string]any) error {
	merged := map[string]any{}
	if _, err := s.Get(ctx, path, &merged); err != nil {
		return err
	}
	for k, v := range fields {
		merged[k] = v
	}
	return s.Set(ctx, path, merged)
}

func (s *Redis) Delete(ctx context.Context, path string) error {
	if err := s.client.Del(ctx, docKey(path)).Err(); err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	if err := s.client.Publish(ctx, watchChannel(path), "").Err(); err != nil {
		return fmt.Errorf("notify %s: %w", path, err)
	}
	return nil
}

func (s *Redis) Push(ctx context.Context, path, id string, doc any) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", path, id, err)
	}
	if err := s.client.HSet(ctx, collectionKey(path), id, body).Err(); err != nil {
		return fmt.Errorf("push %s/%s: %w", path, id, err)
	}
	if err := s.client.Publish(ctx, watchChannel(path), "").Err(); err != nil {
		return fmt.Errorf("notify %s: %w", path, err)
	}
	return nil
}

func (s *Redis) List(ctx context.Context, path string) ([]json.RawMessage, error) {
	entries, err := s.client.HGetAll(ctx, collectionKey(path)).Result()
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", path, err)
	}
	docs := make([]json.RawMessage, 0, len(entries))
	for _, body := range entries {
		docs = append(docs, json.RawMessage(body))
	}
	return docs, nil
}

func (s *Redis) DeleteChild(ctx context.Context, path, id string) error {
	if err := s.client.HDel(ctx, collectionKey(path), id).Err(); err != nil {
		return fmt.Errorf("delete %s/%s: %w", path, id, err)
	}
	if err := s.client.Publish(ctx, watchChannel(path), "").Err(); err != nil {
		return fmt.Errorf("notify %s: %w", path, err)
	}
	return nil
}

func (s *Redis) Watch(ctx context.Context, path string, fn func(json.RawMessage)) (CancelFunc, error) {
	sub := s.client.Subscribe(ctx, watchChannel(path))
	// Wait for the subscription to be confirmed so writes issued right
	// after Watch returns are not missed.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}

	go func() {
		for msg := range sub.Channel() {
			fn(json.RawMessage(msg.Payload))
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() { _ = sub.Close() })
	}
	return cancel, nil
}

func (s *Redis) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Redis) Close() error {
	return s.client.Close()
}
