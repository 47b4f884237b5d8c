package redisstore

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const onlineSetKey = "presence:online"

// Store shares the online-user set across server processes so directory
// reads don't have to hit MySQL.
type Store struct {
	rdb *redis.Client
}

func New(addr, password string, db int) *Store {
	return &Store{
		rdb: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) SetOnline(ctx context.Context, userID uint64) error {
	return s.rdb.SAdd(ctx, onlineSetKey, member(userID)).Err()
}

func (s *Store) SetOffline(ctx context.Context, userID uint64, lastSeen time.Time) error {
	if err := s.rdb.SRem(ctx, onlineSetKey, member(userID)).Err(); err != nil {
		return err
	}
	return s.rdb.Set(ctx, "presence:last_seen:"+member(userID), lastSeen.Unix(), 0).Err()
}

func (s *Store) IsOnline(ctx context.Context, userID uint64) (bool, error) {
	return s.rdb.SIsMember(ctx, onlineSetKey, member(userID)).Result()
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

func member(userID uint64) string {
	return strconv.FormatUint(userID, 10)
}
