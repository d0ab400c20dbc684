package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/mkamenev/clubgate-bot/types"
)

// RedisPendingStore keeps one in-flight checkout session per user so a
// repeated purchase command reuses the open gateway session instead of
// creating another one. Entries expire on their own.
type RedisPendingStore struct {
	client *RedisClient
	ttl    time.Duration
}

func NewRedisPendingStore(redisClient *RedisClient, ttlHours int) *RedisPendingStore {
	ttl := time.Duration(ttlHours) * time.Hour
	if ttlHours <= 0 {
		ttl = 24 * time.Hour
	}

	return &RedisPendingStore{
		client: redisClient,
		ttl:    ttl,
	}
}

func (s *RedisPendingStore) key(userID int64) string {
	return s.client.generateKey("pending_purchase", fmt.Sprintf("%d", userID))
}

func (s *RedisPendingStore) SavePending(userID int64, p *types.PendingPurchase) error {
	return s.client.Set(s.key(userID), p, s.ttl)
}

func (s *RedisPendingStore) GetPending(userID int64) (*types.PendingPurchase, error) {
	var p types.PendingPurchase
	if err := s.client.Get(s.key(userID), &p); err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (s *RedisPendingStore) DeletePending(userID int64) error {
	return s.client.Del(s.key(userID))
}
