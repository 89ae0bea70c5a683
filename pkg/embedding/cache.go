package embedding

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arguendo/recall/config"
)

// CacheBackend stores embedding vectors keyed by a content hash.
type CacheBackend interface {
	Get(ctx context.Context, key string) ([]float32, bool, error)
	Set(ctx context.Context, key string, vec []float32) error
	Close() error
}

// CacheRecorder receives cache hit and miss counts. Satisfied by
// metrics.Manager.
type CacheRecorder interface {
	RecordCacheHit()
	RecordCacheMiss()
}

type nopRecorder struct{}

func (nopRecorder) RecordCacheHit()  {}
func (nopRecorder) RecordCacheMiss() {}

// CachingProvider wraps a Provider with a vector cache. Identical texts
// reach the inner provider once.
type CachingProvider struct {
	inner    Provider
	backend  CacheBackend
	recorder CacheRecorder
}

// NewCachingProvider wraps inner with the given backend. A nil recorder
// disables counting.
func NewCachingProvider(inner Provider, backend CacheBackend, recorder CacheRecorder) *CachingProvider {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &CachingProvider{inner: inner, backend: backend, recorder: recorder}
}

// NewCacheBackend builds a backend from the cache config. Type "none"
// returns nil, meaning callers should skip wrapping.
func NewCacheBackend(cfg config.CacheConfig) (CacheBackend, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryCache(cfg.Size), nil
	case "redis":
		if cfg.Redis.Address == "" {
			return nil, errors.New("redis cache requires an address")
		}
		return NewRedisCache(cfg.Redis), nil
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown cache type %q", cfg.Type)
	}
}

func cacheKey(text string, dimensions int) string {
	h := sha256.Sum256([]byte(text))
	return fmt.Sprintf("emb:%d:%s", dimensions, hex.EncodeToString(h[:16]))
}

// Embed serves from cache when possible, embedding and storing on miss.
// Backend failures degrade to the inner provider rather than failing the call.
func (p *CachingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(text, p.inner.Dimensions())

	if vec, ok, err := p.backend.Get(ctx, key); err == nil && ok {
		p.recorder.RecordCacheHit()
		return vec, nil
	}
	p.recorder.RecordCacheMiss()

	vec, err := p.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	_ = p.backend.Set(ctx, key, vec)
	return vec, nil
}

// EmbedBatch resolves cached texts first and embeds only the misses, in a
// single inner batch call. Output order matches input order.
func (p *CachingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}

	out := make([][]float32, len(texts))
	var missTexts []string
	var missIdx []int

	for i, text := range texts {
		key := cacheKey(text, p.inner.Dimensions())
		if vec, ok, err := p.backend.Get(ctx, key); err == nil && ok {
			p.recorder.RecordCacheHit()
			out[i] = vec
			continue
		}
		p.recorder.RecordCacheMiss()
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}

	if len(missTexts) > 0 {
		vecs, err := p.inner.EmbedBatch(ctx, missTexts)
		if err != nil {
			return nil, err
		}
		for j, vec := range vecs {
			out[missIdx[j]] = vec
			_ = p.backend.Set(ctx, cacheKey(missTexts[j], p.inner.Dimensions()), vec)
		}
	}
	return out, nil
}

// Dimensions returns the inner provider's dimension.
func (p *CachingProvider) Dimensions() int {
	return p.inner.Dimensions()
}

// Close closes the backend then the inner provider.
func (p *CachingProvider) Close() error {
	backendErr := p.backend.Close()
	if err := p.inner.Close(); err != nil {
		return err
	}
	return backendErr
}

// MemoryCache is a bounded in-process LRU of embedding vectors.
type MemoryCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	entries  map[string]*list.Element
}

type memoryEntry struct {
	key string
	vec []float32
}

// NewMemoryCache builds an LRU holding at most capacity vectors.
func NewMemoryCache(capacity int) *MemoryCache {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemoryCache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]float32, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*memoryEntry).vec, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, vec []float32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		elem.Value.(*memoryEntry).vec = vec
		c.order.MoveToFront(elem)
		return nil
	}

	c.entries[key] = c.order.PushFront(&memoryEntry{key: key, vec: vec})
	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*memoryEntry).key)
	}
	return nil
}

// Len returns the current number of cached vectors.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *MemoryCache) Close() error {
	return nil
}

// RedisCache stores vectors in Redis with an optional TTL, letting multiple
// engine instances share one embedding cache.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache connects a cache backend to Redis.
func NewRedisCache(cfg config.RedisConfig) *RedisCache {
	return &RedisCache{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Address,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		ttl: cfg.TTL,
	}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]float32, bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	vec, err := decodeVector(data)
	if err != nil {
		return nil, false, err
	}
	return vec, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, vec []float32) error {
	return c.client.Set(ctx, key, encodeVector(vec), c.ttl).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Vectors travel as little-endian float32 words.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("corrupt cached vector: %d bytes", len(data))
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, nil
}
