package registry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/michaeljohneduave/hugin-gateway/tools/errs"
)

const connDataSep = "|"

// RedisRegistry is the cache-style backend: set-membership keys for
// user→connections and room→members plus a single delimited value for
// connection→(userId, token). Every key shares one TTL refreshed on each
// heartbeat, so records for ungracefully dropped sockets expire passively.
type RedisRegistry struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisRegistry(rdb *redis.Client, ttl time.Duration) *RedisRegistry {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &RedisRegistry{rdb: rdb, ttl: ttl}
}

func userConnsKey(userID string) string { return fmt.Sprintf("conn:u:%s", userID) }
func connDataKey(connID string) string  { return fmt.Sprintf("conn:c:%s", connID) }
func roomKey(roomID string) string      { return fmt.Sprintf("room:m:%s", roomID) }

func (r *RedisRegistry) RefreshUserConnection(ctx context.Context, userID, token, connID string) error {
	uKey := userConnsKey(userID)
	cKey := connDataKey(connID)

	pipe := r.rdb.TxPipeline()
	pipe.SAdd(ctx, uKey, connID)
	pipe.Expire(ctx, uKey, r.ttl)
	pipe.Set(ctx, cKey, userID+connDataSep+token, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return errs.ErrRegistryUnavailable.WrapMsg(err.Error())
	}
	return nil
}

func (r *RedisRegistry) GetUserConnections(ctx context.Context, userID string) ([]string, error) {
	conns, err := r.rdb.SMembers(ctx, userConnsKey(userID)).Result()
	if err != nil {
		return nil, errs.ErrRegistryUnavailable.WrapMsg(err.Error())
	}
	return conns, nil
}

func (r *RedisRegistry) GetConnectionData(ctx context.Context, connID string) (*ConnectionData, error) {
	val, err := r.rdb.Get(ctx, connDataKey(connID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errs.ErrRegistryUnavailable.WrapMsg(err.Error())
	}
	userID, token, ok := strings.Cut(val, connDataSep)
	if !ok {
		return nil, errs.ErrRegistryUnavailable.WithDetail("malformed connection record: " + val)
	}
	return &ConnectionData{UserID: userID, Token: token}, nil
}

func (r *RedisRegistry) RemoveConnection(ctx context.Context, connID, userID string) error {
	pipe := r.rdb.TxPipeline()
	pipe.SRem(ctx, userConnsKey(userID), connID)
	pipe.Del(ctx, connDataKey(connID))
	if _, err := pipe.Exec(ctx); err != nil {
		return errs.ErrRegistryUnavailable.WrapMsg(err.Error())
	}
	return nil
}

func (r *RedisRegistry) AddUserToRoom(ctx context.Context, roomID, userID, connID string) error {
	rKey := roomKey(roomID)
	uKey := userConnsKey(userID)

	// the join must stand on its own: record the connection under the user
	// even if no heartbeat has run yet
	pipe := r.rdb.TxPipeline()
	pipe.SAdd(ctx, rKey, userID)
	pipe.Expire(ctx, rKey, r.ttl)
	pipe.SAdd(ctx, uKey, connID)
	pipe.Expire(ctx, uKey, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return errs.ErrRegistryUnavailable.WrapMsg(err.Error())
	}
	return nil
}

func (r *RedisRegistry) RemoveUserFromRoom(ctx context.Context, roomID, userID string) error {
	if err := r.rdb.SRem(ctx, roomKey(roomID), userID).Err(); err != nil {
		return errs.ErrRegistryUnavailable.WrapMsg(err.Error())
	}
	return nil
}

func (r *RedisRegistry) GetRoomMembers(ctx context.Context, roomID string) ([]string, error) {
	members, err := r.rdb.SMembers(ctx, roomKey(roomID)).Result()
	if err != nil {
		return nil, errs.ErrRegistryUnavailable.WrapMsg(err.Error())
	}
	return members, nil
}
