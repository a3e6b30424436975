package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"math/rand"
	"time"

	redis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"annotationServer/backend/internal/annotations"
)

const (
	BaseTTL          = 24 * time.Hour   // 基础过期时间
	Jitter           = 60 * time.Minute // 随机抖动范围
	NullTTL          = 5 * time.Minute  // 空值缓存过期时间
	EmptyCacheMarker = "-1"             // 空值标记
	LoadTimeout      = 3 * time.Second  // 单次回源的最长时间
)

var ErrCacheType = errors.New("internal type error")

// 获取随机TTL，防止缓存雪崩
func getRandomTTL() time.Duration {
	return BaseTTL + time.Duration(rand.Int63n(int64(Jitter)))
}

// IndexEntry 某个版本的批注区间
type IndexEntry struct {
	Revision uint64             `json:"revision"`
	Spans    []annotations.Span `json:"spans"`
}

// IndexLoader 回源函数，found=false 表示文档不存在
type IndexLoader func(ctx context.Context) (spans []annotations.Span, rev uint64, found bool, err error)

// AnnotationIndexCache 批注区间的读缓存：Singleflight + 随机 TTL + 空值缓存
type AnnotationIndexCache struct {
	rdb redis.UniversalClient
	sf  singleflight.Group
}

func NewAnnotationIndexCache(rdb redis.UniversalClient) *AnnotationIndexCache {
	return &AnnotationIndexCache{rdb: rdb}
}

// readCache 返回 (entry, hit, empty, err)；empty 表示命中空值标记
func (c *AnnotationIndexCache) readCache(ctx context.Context, key string) (IndexEntry, bool, bool, error) {
	res, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return IndexEntry{}, false, false, nil
		}
		return IndexEntry{}, false, false, err
	}
	if res == EmptyCacheMarker {
		return IndexEntry{}, true, true, nil
	}
	var e IndexEntry
	if err := json.Unmarshal([]byte(res), &e); err != nil {
		// 脏数据当作未命中，回源后覆盖
		return IndexEntry{}, false, false, nil
	}
	return e, true, false, nil
}

// 版本低于 floor 的结果不回填：回源期间文档已经变化，并且失效已经执行过
var writeIndexScript = redis.NewScript(`
local floor = redis.call('GET', KEYS[2])
if floor and tonumber(floor) > tonumber(ARGV[2]) then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
return 1
`)

// 抬高 floor（只增不减）并删除索引
var invalidateIndexScript = redis.NewScript(`
local floor = redis.call('GET', KEYS[2])
if (not floor) or tonumber(floor) < tonumber(ARGV[1]) then
	redis.call('SET', KEYS[2], ARGV[1], 'PX', ARGV[2])
end
redis.call('DEL', KEYS[1])
return 1
`)

// writeCache 返回是否真正写入
func (c *AnnotationIndexCache) writeCache(ctx context.Context, docID string, e IndexEntry) (bool, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return false, err
	}
	n, err := writeIndexScript.Run(ctx, c.rdb,
		[]string{annotationIndexKey(docID), annotationFloorKey(docID)},
		b, e.Revision, getRandomTTL().Milliseconds()).Int()
	return n == 1, err
}

// 标记空值缓存，防止缓存穿透
func (c *AnnotationIndexCache) writeNullCache(ctx context.Context, key string) error {
	return c.rdb.Set(ctx, key, EmptyCacheMarker, NullTTL).Err()
}

type indexResult struct {
	entry IndexEntry
	found bool
}

// Get 读取文档的批注索引，未命中时回源并回填。
// 回源结果被所有等待者共享，不使用某一个请求的 ctx
func (c *AnnotationIndexCache) Get(ctx context.Context, docID string, load IndexLoader) (IndexEntry, bool, error) {
	key := annotationIndexKey(docID)
	ch := c.sf.DoChan(key, func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), LoadTimeout)
		defer cancel()

		e, hit, empty, err := c.readCache(ctx, key)
		if err != nil {
			return nil, err
		}
		if hit {
			return indexResult{entry: e, found: !empty}, nil
		}

		// 回源 (Redis Miss)
		spans, rev, found, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if !found {
			_ = c.writeNullCache(ctx, key)
			return indexResult{}, nil
		}
		if spans == nil {
			spans = []annotations.Span{}
		}
		e = IndexEntry{Revision: rev, Spans: spans}
		if ok, err := c.writeCache(ctx, docID, e); err == nil && !ok {
			log.Printf("annotation index for doc=%s rev=%d is stale, not cached", docID, rev)
		}
		return indexResult{entry: e, found: true}, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return IndexEntry{}, false, ctx.Err()
	}
	if res.Err != nil {
		return IndexEntry{}, false, res.Err
	}
	val := res.Val
	// 使用断言确保不会panic
	r, ok := val.(indexResult)
	if !ok {
		return IndexEntry{}, false, ErrCacheType
	}
	return r.entry, r.found, nil
}

// Invalidate 文档变到 revision 后删除缓存，并拒绝之后回填更老的版本
func (c *AnnotationIndexCache) Invalidate(ctx context.Context, docID string, revision uint64) error {
	ttl := (BaseTTL + Jitter).Milliseconds()
	return invalidateIndexScript.Run(ctx, c.rdb,
		[]string{annotationIndexKey(docID), annotationFloorKey(docID)},
		revision, ttl).Err()
}
