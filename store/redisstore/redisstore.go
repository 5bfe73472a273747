// Package redisstore keeps refresh-token sessions in Redis.
//
// Layout, with p the configured prefix:
//
//	{p}:sess:<hash>  HASH   session fields, PEXPIREAT at expiry plus retention
//	{p}:ident:<id>   SET    token hashes owned by an identity
//	{p}:expiry       ZSET   "<id>|<hash>" scored by expiry (unix ms), drives the sweep
//
// Keys outlive ExpiresAt by the retention window so a late refresh observes
// an expired session rather than a missing one. Creation, revocation and
// deletion are Lua scripts so each is atomic per session.
//
// The prefix is a Redis Cluster hash tag: every key of one store hashes to
// the same slot, and the scripts name each key they touch in KEYS. Use a
// distinct prefix per store to spread load across slots.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/trustcore/store"
	"github.com/redis/go-redis/v9"
)

// ErrUnavailable wraps Redis transport failures.
var ErrUnavailable = errors.New("redisstore: redis unavailable")

const createSessionScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1],
  "id", ARGV[1], "identity_id", ARGV[2], "ip", ARGV[3], "ua", ARGV[4],
  "expires_at", ARGV[5], "created_at", ARGV[6], "revoked", "0")
redis.call("PEXPIREAT", KEYS[1], ARGV[8])
redis.call("SADD", KEYS[2], ARGV[7])
redis.call("ZADD", KEYS[3], ARGV[5], ARGV[2] .. "|" .. ARGV[7])
return 1
`

const revokeSessionScript = `
local owner = redis.call("HGET", KEYS[1], "identity_id")
if not owner or owner ~= ARGV[1] then
  return 0
end
if redis.call("HGET", KEYS[1], "revoked") == "1" then
  return 0
end
redis.call("HSET", KEYS[1], "revoked", "1")
return 1
`

const deleteSessionScript = `
redis.call("DEL", KEYS[2])
redis.call("SREM", KEYS[3], ARGV[2])
return redis.call("ZREM", KEYS[1], ARGV[1])
`

var (
	createSessionLua = redis.NewScript(createSessionScript)
	revokeSessionLua = redis.NewScript(revokeSessionScript)
	deleteSessionLua = redis.NewScript(deleteSessionScript)
)

// DefaultRetention is how long a session key outlives its expiry.
const DefaultRetention = 24 * time.Hour

// Store implements store.SessionStore.
type Store struct {
	redis     redis.UniversalClient
	prefix    string
	retention time.Duration
	sweepPage int64
}

var _ store.SessionStore = (*Store)(nil)

func New(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "tc"
	}
	return &Store{redis: client, prefix: prefix, retention: DefaultRetention, sweepPage: 500}
}

// WithRetention overrides DefaultRetention.
func (s *Store) WithRetention(d time.Duration) *Store {
	if d >= 0 {
		s.retention = d
	}
	return s
}

func (s *Store) tag() string { return "{" + s.prefix + "}" }

func (s *Store) sessionKey(hash string) string { return s.tag() + ":sess:" + hash }

func (s *Store) identityKey(id string) string { return s.tag() + ":ident:" + id }

func (s *Store) expiryKey() string { return s.tag() + ":expiry" }

func (s *Store) CreateSession(ctx context.Context, sess *store.Session) error {
	created, err := createSessionLua.Run(ctx, s.redis,
		[]string{s.sessionKey(sess.TokenHash), s.identityKey(sess.IdentityID), s.expiryKey()},
		sess.ID, sess.IdentityID, sess.Origin.IP, sess.Origin.UserAgent,
		sess.ExpiresAt.UnixMilli(), sess.CreatedAt.UnixMilli(), sess.TokenHash,
		sess.ExpiresAt.Add(s.retention).UnixMilli(),
	).Int()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if created == 0 {
		return store.ErrDuplicate
	}
	return nil
}

func (s *Store) FindSessionByTokenHash(ctx context.Context, tokenHash string) (*store.Session, error) {
	fields, err := s.redis.HGetAll(ctx, s.sessionKey(tokenHash)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, store.ErrNotFound
	}
	return decodeSession(tokenHash, fields)
}

func (s *Store) RevokeSession(ctx context.Context, identityID, tokenHash string) (bool, error) {
	n, err := revokeSessionLua.Run(ctx, s.redis, []string{s.sessionKey(tokenHash)}, identityID).Int()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n == 1, nil
}

// RevokeIdentitySessions reads the identity index and revokes each member.
// A session created between the read and the revocations is left alone.
func (s *Store) RevokeIdentitySessions(ctx context.Context, identityID, keepTokenHash string) (int, error) {
	hashes, err := s.redis.SMembers(ctx, s.identityKey(identityID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	revoked := 0
	for _, h := range hashes {
		if h == keepTokenHash {
			continue
		}
		ok, err := s.RevokeSession(ctx, identityID, h)
		if err != nil {
			return revoked, err
		}
		if ok {
			revoked++
		}
	}
	return revoked, nil
}

// DeleteExpiredSessions pages through the expiry index. Concurrent sweepers
// only count the members they actually removed from the index.
func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error) {
	max := strconv.FormatInt(now.UnixMilli(), 10)
	removed := 0
	for {
		members, err := s.redis.ZRangeByScore(ctx, s.expiryKey(), &redis.ZRangeBy{
			Min:   "-inf",
			Max:   max,
			Count: s.sweepPage,
		}).Result()
		if err != nil {
			return removed, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if len(members) == 0 {
			return removed, nil
		}
		for _, member := range members {
			n, err := s.deleteIndexed(ctx, member)
			if err != nil {
				return removed, fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
			removed += n
		}
		if int64(len(members)) < s.sweepPage {
			return removed, nil
		}
	}
}

// deleteIndexed removes the session named by an expiry member together with
// its identity index entry. Malformed members are only dropped from the index.
func (s *Store) deleteIndexed(ctx context.Context, member string) (int, error) {
	owner, hash, ok := strings.Cut(member, "|")
	if !ok {
		n, err := s.redis.ZRem(ctx, s.expiryKey(), member).Result()
		return int(n), err
	}
	return deleteSessionLua.Run(ctx, s.redis,
		[]string{s.expiryKey(), s.sessionKey(hash), s.identityKey(owner)},
		member, hash,
	).Int()
}

// Ping reports the round-trip latency to Redis.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return time.Since(start), nil
}

func decodeSession(hash string, f map[string]string) (*store.Session, error) {
	expires, err := strconv.ParseInt(f["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("redisstore: corrupt expires_at for %s", hash)
	}
	created, err := strconv.ParseInt(f["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("redisstore: corrupt created_at for %s", hash)
	}
	return &store.Session{
		ID:         f["id"],
		IdentityID: f["identity_id"],
		TokenHash:  hash,
		Origin:     store.Origin{IP: f["ip"], UserAgent: f["ua"]},
		ExpiresAt:  time.UnixMilli(expires).UTC(),
		CreatedAt:  time.UnixMilli(created).UTC(),
		Revoked:    f["revoked"] == "1",
	}, nil
}
