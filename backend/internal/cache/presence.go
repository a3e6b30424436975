package cache

import (
	"context"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

type PresenceCache interface {
	AddMember(ctx context.Context, docID string, userID uint64, username string, ttl time.Duration) error
	RemoveMember(ctx context.Context, docID string, userID uint64) error
	GetDocuments(ctx context.Context) ([]string, error)
	GetAliveMembersWithNames(ctx context.Context, docID string) ([]PresenceMember, error)

	// 选择器（focus / hover）在房间内的占用情况，跨实例共享
	SetSelector(ctx context.Context, docID string, userID uint64, selector, annotationID string, ttl time.Duration) error
	UnsetSelector(ctx context.Context, docID string, userID uint64, selector, annotationID string) (bool, error)
	GetSelectors(ctx context.Context, docID string) ([]SelectorPresence, error)
}

// 具体实现：基于 redis 的 PresenceCache，单机和集群客户端都可以
type redisPresence struct {
	rdb redis.UniversalClient
}

type PresenceMember struct {
	UserID   uint64 `json:"userId"`
	Username string `json:"username"`
}

type SelectorPresence struct {
	UserID       uint64 `json:"userId"`
	Selector     string `json:"selector"`
	AnnotationID string `json:"annotationId"`
}

func NewRedisPresence(rdb redis.UniversalClient) PresenceCache {
	return &redisPresence{rdb: rdb}
}

func (p *redisPresence) AddMember(ctx context.Context, docID string, userID uint64, username string, ttl time.Duration) error {
	// 刷新TTL也直接调用AddMember即可
	tx := p.rdb.TxPipeline()
	// ZSET score 使用 expireAt（Unix 秒），用于表达“逻辑 TTL”
	expireAt := time.Now().Add(ttl).Unix()
	tx.ZAdd(ctx, roomKey(docID), redis.Z{Score: float64(expireAt), Member: userID})
	// 名字表（Hash）
	tx.HSet(ctx, namesKey(docID), userID, username)
	_, err := tx.Exec(ctx)
	return err
}

// RemoveMember 离开房间，同时清掉该用户占用的选择器
func (p *redisPresence) RemoveMember(ctx context.Context, docID string, userID uint64) error {
	uid := strconv.FormatUint(userID, 10)
	fields, err := p.rdb.HKeys(ctx, selectorsKey(docID)).Result()
	if err != nil && err != redis.Nil {
		return err
	}
	var owned []string
	for _, f := range fields {
		if strings.HasPrefix(f, uid+":") {
			owned = append(owned, f)
		}
	}

	tx := p.rdb.TxPipeline()
	tx.ZRem(ctx, roomKey(docID), uid)
	tx.HDel(ctx, namesKey(docID), uid)
	if len(owned) > 0 {
		tx.HDel(ctx, selectorsKey(docID), owned...)
	}
	_, err = tx.Exec(ctx)
	return err
}

func (p *redisPresence) GetDocuments(ctx context.Context) ([]string, error) {
	var documents []string
	iter := p.rdb.Scan(ctx, 0, keyRoomPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if docID := docIDFromRoomKey(iter.Val()); docID != "" {
			documents = append(documents, docID)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return documents, nil
}

func (p *redisPresence) SetSelector(ctx context.Context, docID string, userID uint64, selector, annotationID string, ttl time.Duration) error {
	tx := p.rdb.TxPipeline()
	tx.HSet(ctx, selectorsKey(docID), selectorField(userID, selector), annotationID)
	if ttl > 0 {
		tx.Expire(ctx, selectorsKey(docID), ttl)
	}
	_, err := tx.Exec(ctx)
	return err
}

// 只有当前占用者是 annotationID 时才释放
var unsetSelectorScript = redis.NewScript(`
-- KEYS[1] = selectorsKey(docID)
-- ARGV[1] = userId:selector
-- ARGV[2] = annotationId
if redis.call("HGET", KEYS[1], ARGV[1]) == ARGV[2] then
	redis.call("HDEL", KEYS[1], ARGV[1])
	return 1
end
return 0
`)

func (p *redisPresence) UnsetSelector(ctx context.Context, docID string, userID uint64, selector, annotationID string) (bool, error) {
	n, err := unsetSelectorScript.Run(ctx, p.rdb, []string{selectorsKey(docID)}, selectorField(userID, selector), annotationID).Int()
	if err != nil && err != redis.Nil {
		return false, err
	}
	return n == 1, nil
}

func (p *redisPresence) GetSelectors(ctx context.Context, docID string) ([]SelectorPresence, error) {
	all, err := p.rdb.HGetAll(ctx, selectorsKey(docID)).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	out := make([]SelectorPresence, 0, len(all))
	for field, id := range all {
		uid, sel, ok := strings.Cut(field, ":")
		if !ok {
			continue
		}
		userID, err := strconv.ParseUint(uid, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, SelectorPresence{UserID: userID, Selector: sel, AnnotationID: id})
	}
	return out, nil
}

func (p *redisPresence) GetAliveMembersWithNames(ctx context.Context, docID string) ([]PresenceMember, error) {
	// step1: 清理过期成员，并查询在线成员
	// 约定：score=expireAt（Unix 秒），expireAt <= now 视为过期
	now := time.Now().Unix()
	luaScript := `
	-- KEYS[1] = roomKey(docID)
	-- KEYS[2] = namesKey(docID)
	-- ARGV[1] = now (unix seconds)

	local expired = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
	if #expired > 0 then
		redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
		redis.call("HDEL", KEYS[2], unpack(expired))
	end
	return #expired
	`

	script := redis.NewScript(luaScript)
	_, err := script.Run(ctx, p.rdb, []string{roomKey(docID), namesKey(docID)}, now).Int()
	if err != nil && err != redis.Nil {
		return nil, err
	}

	// step2: 查询在线成员
	aliveIDs, err := p.rdb.ZRangeByScore(ctx, roomKey(docID), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(now, 10), // > now
		Max: "+inf",
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	if len(aliveIDs) == 0 {
		return nil, nil
	}
	// ZRangeByScore 返回的是 member 的字符串表示，这里解析回 uint64
	uids := make([]uint64, 0, len(aliveIDs))
	for _, aliveID := range aliveIDs {
		uid, err := strconv.ParseUint(aliveID, 10, 64)
		if err != nil {
			return nil, err
		}
		uids = append(uids, uid)
	}

	// step3: 批量获取名字
	names, err := p.rdb.HMGet(ctx, namesKey(docID), aliveIDs...).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	members := make([]PresenceMember, 0, len(uids))
	for i, v := range names {
		name := ""
		if v != nil {
			name, _ = v.(string)
		}
		members = append(members, PresenceMember{UserID: uids[i], Username: name})
	}
	return members, nil
}
