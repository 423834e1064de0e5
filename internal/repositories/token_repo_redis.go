package repositories

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/BradenHooton/tokenwarden/internal/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisPruneBatch = 500

// deactivateTokensLua flips every id in the active set to inactive and clears the set.
// KEYS[1] = active set key
// ARGV[1] = record key prefix
//
// Returns the number of records deactivated.
var deactivateTokensLua = redis.NewScript(`
local ids = redis.call('SMEMBERS', KEYS[1])
for _, id in ipairs(ids) do
  redis.call('HSET', ARGV[1] .. id, 'active', '0')
end
redis.call('DEL', KEYS[1])
return #ids
`)

// consumeTokenLua deactivates one token if it is still in the subject's active set.
// KEYS[1] = active set key
// KEYS[2] = record key
// ARGV[1] = token id
// ARGV[2] = consumed_at unix micros
//
// SREM decides the winner: concurrent consumers of the same id see 0.
var consumeTokenLua = redis.NewScript(`
if redis.call('SREM', KEYS[1], ARGV[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[2], 'active', '0', 'consumed_at', ARGV[2])
return 1
`)

// restoreTokenLua reactivates a consumed token unless the subject moved on.
// KEYS[1] = active set key
// KEYS[2] = record key
// KEYS[3] = subject history zset
// ARGV[1] = token id
// ARGV[2] = consumed_at unix micros the token was consumed with
// ARGV[3] = token created_at unix micros
var restoreTokenLua = redis.NewScript(`
if redis.call('HGET', KEYS[2], 'consumed_at') ~= ARGV[2] then
  return 0
end
if redis.call('SCARD', KEYS[1]) > 0 then
  return 0
end
if #redis.call('ZRANGEBYSCORE', KEYS[3], '(' .. ARGV[3], '+inf', 'LIMIT', 0, 1) > 0 then
  return 0
end
redis.call('HSET', KEYS[2], 'active', '1', 'consumed_at', '')
redis.call('SADD', KEYS[1], ARGV[1])
return 1
`)

// findByCodeLua lists ids sharing a code hash, active first and newest first, up to ARGV[2].
// KEYS[1] = code zset key
// ARGV[1] = record key prefix
// ARGV[2] = limit
var findByCodeLua = redis.NewScript(`
local ids = redis.call('ZREVRANGE', KEYS[1], 0, -1)
local limit = tonumber(ARGV[2])
local active, inactive = {}, {}
for _, id in ipairs(ids) do
  if redis.call('HGET', ARGV[1] .. id, 'active') == '1' then
    active[#active + 1] = id
  else
    inactive[#inactive + 1] = id
  end
end
local out = {}
for _, id in ipairs(active) do
  if #out >= limit then return out end
  out[#out + 1] = id
end
for _, id in ipairs(inactive) do
  if #out >= limit then return out end
  out[#out + 1] = id
end
return out
`)

// pruneTokensLua removes up to ARGV[3] records created before ARGV[2] along with their index entries.
// KEYS[1] = global created_at index
// ARGV[1] = key namespace ("<prefix>:tok:")
// ARGV[2] = cutoff unix micros (exclusive)
// ARGV[3] = batch size
var pruneTokensLua = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[2], 'LIMIT', 0, tonumber(ARGV[3]))
for _, id in ipairs(ids) do
  local key = ARGV[1] .. 'rec:' .. id
  local rec = redis.call('HMGET', key, 'kind', 'subject', 'code_hash')
  if rec[1] then
    redis.call('ZREM', ARGV[1] .. 'subj:' .. rec[1] .. ':' .. rec[2], id)
    redis.call('ZREM', ARGV[1] .. 'code:' .. rec[1] .. ':' .. rec[3], id)
    redis.call('SREM', ARGV[1] .. 'active:' .. rec[1] .. ':' .. rec[2], id)
  end
  redis.call('DEL', key)
  redis.call('ZREM', KEYS[1], id)
end
return #ids
`)

// RedisTokenRepository stores issued tokens in Redis.
// Layout under "<prefix>:tok:":
//
//	rec:<id>                      hash with the token fields
//	subj:<kind>:<subject>         zset of ids scored by created_at (unix micros)
//	code:<kind>:<code_hash>       zset of ids scored by created_at
//	active:<kind>:<subject>       set of active ids
//	all                           zset of every id scored by created_at
//
// The Lua scripts touch keys derived at runtime, so the store targets a single
// Redis node rather than a cluster.
type RedisTokenRepository struct {
	client redis.UniversalClient
	ns     string
}

// NewRedisTokenRepository creates a Redis-backed token store
func NewRedisTokenRepository(client redis.UniversalClient, prefix string) *RedisTokenRepository {
	if prefix == "" {
		prefix = "tw"
	}
	return &RedisTokenRepository{client: client, ns: prefix + ":tok:"}
}

func (r *RedisTokenRepository) recordKey(id string) string { return r.ns + "rec:" + id }

func (r *RedisTokenRepository) subjectKey(kind models.TokenKind, subject string) string {
	return r.ns + "subj:" + string(kind) + ":" + subject
}

func (r *RedisTokenRepository) codeKey(kind models.TokenKind, codeHash string) string {
	return r.ns + "code:" + string(kind) + ":" + codeHash
}

func (r *RedisTokenRepository) activeKey(kind models.TokenKind, subject string) string {
	return r.ns + "active:" + string(kind) + ":" + subject
}

func (r *RedisTokenRepository) allKey() string { return r.ns + "all" }

func micros(t time.Time) string { return strconv.FormatInt(t.UnixMicro(), 10) }

// Ping checks connectivity for health checks
func (r *RedisTokenRepository) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

func (r *RedisTokenRepository) Insert(ctx context.Context, token *models.Token) (*models.Token, error) {
	if token.ID == "" {
		token.ID = uuid.New().String()
	}

	// Redis scores carry microsecond precision, same as Postgres timestamptz
	token.CreatedAt = token.CreatedAt.Truncate(time.Microsecond)
	score := float64(token.CreatedAt.UnixMicro())

	active := "0"
	if token.Active {
		active = "1"
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.recordKey(token.ID),
			"id", token.ID,
			"kind", string(token.Kind),
			"subject", token.SubjectKey,
			"code_hash", token.CodeHash,
			"active", active,
			"created_at", micros(token.CreatedAt),
			"consumed_at", "",
		)
		member := redis.Z{Score: score, Member: token.ID}
		pipe.ZAdd(ctx, r.subjectKey(token.Kind, token.SubjectKey), member)
		pipe.ZAdd(ctx, r.codeKey(token.Kind, token.CodeHash), member)
		pipe.ZAdd(ctx, r.allKey(), member)
		if token.Active {
			pipe.SAdd(ctx, r.activeKey(token.Kind, token.SubjectKey), token.ID)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to insert token: %w", err)
	}

	stored := *token
	return &stored, nil
}

func (r *RedisTokenRepository) DeactivateActive(ctx context.Context, kind models.TokenKind, subjectKey string) (int64, error) {
	n, err := deactivateTokensLua.Run(ctx, r.client,
		[]string{r.activeKey(kind, subjectKey)}, r.ns+"rec:").Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate tokens: %w", err)
	}
	return n, nil
}

func (r *RedisTokenRepository) ConsumeToken(ctx context.Context, token *models.Token, at time.Time) (bool, error) {
	n, err := consumeTokenLua.Run(ctx, r.client,
		[]string{r.activeKey(token.Kind, token.SubjectKey), r.recordKey(token.ID)},
		token.ID, micros(at)).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to consume token: %w", err)
	}
	return n == 1, nil
}

func (r *RedisTokenRepository) RestoreToken(ctx context.Context, token *models.Token, consumedAt time.Time) (bool, error) {
	n, err := restoreTokenLua.Run(ctx, r.client,
		[]string{
			r.activeKey(token.Kind, token.SubjectKey),
			r.recordKey(token.ID),
			r.subjectKey(token.Kind, token.SubjectKey),
		},
		token.ID, micros(consumedAt), micros(token.CreatedAt)).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to restore token: %w", err)
	}
	return n == 1, nil
}

func (r *RedisTokenRepository) CountCreatedBetween(ctx context.Context, kind models.TokenKind, subjectKey string, from, to time.Time) (int, error) {
	n, err := r.client.ZCount(ctx, r.subjectKey(kind, subjectKey), "("+micros(from), "("+micros(to)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count tokens: %w", err)
	}
	return int(n), nil
}

func (r *RedisTokenRepository) OldestCreatedBetween(ctx context.Context, kind models.TokenKind, subjectKey string, from, to time.Time) (*time.Time, error) {
	res, err := r.client.ZRangeByScoreWithScores(ctx, r.subjectKey(kind, subjectKey), &redis.ZRangeBy{
		Min:   "(" + micros(from),
		Max:   "(" + micros(to),
		Count: 1,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to find oldest token: %w", err)
	}
	if len(res) == 0 {
		return nil, nil
	}

	oldest := time.UnixMicro(int64(res[0].Score)).UTC()
	return &oldest, nil
}

func (r *RedisTokenRepository) FindByCodeHash(ctx context.Context, kind models.TokenKind, codeHash string) ([]*models.Token, error) {
	ids, err := findByCodeLua.Run(ctx, r.client,
		[]string{r.codeKey(kind, codeHash)}, r.ns+"rec:", maxCodeCandidates).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to query tokens by code: %w", err)
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, r.recordKey(id))
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to load tokens: %w", err)
	}

	tokens := make([]*models.Token, 0, len(ids))
	for _, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		token, err := tokenFromHash(fields)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}

	return tokens, nil
}

func (r *RedisTokenRepository) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64
	for {
		n, err := pruneTokensLua.Run(ctx, r.client, []string{r.allKey()}, r.ns, micros(cutoff), redisPruneBatch).Int64()
		if err != nil {
			return total, fmt.Errorf("failed to prune tokens: %w", err)
		}
		total += n
		if n < redisPruneBatch {
			return total, nil
		}
	}
}

func tokenFromHash(fields map[string]string) (*models.Token, error) {
	created, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt token record %s: %w", fields["id"], err)
	}

	token := &models.Token{
		ID:         fields["id"],
		Kind:       models.TokenKind(fields["kind"]),
		SubjectKey: fields["subject"],
		CodeHash:   fields["code_hash"],
		Active:     fields["active"] == "1",
		CreatedAt:  time.UnixMicro(created).UTC(),
	}

	if v := fields["consumed_at"]; v != "" {
		consumed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt token record %s: %w", fields["id"], err)
		}
		at := time.UnixMicro(consumed).UTC()
		token.ConsumedAt = &at
	}

	return token, nil
}
