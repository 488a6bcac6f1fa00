// Package notify hands loyalty achievements to whatever delivers them to the
// customer. Delivery itself happens outside this service.
package notify

import (
	"context"
	"encoding/json"
	"log"

	redis "github.com/redis/go-redis/v9"

	"laundrypos/backend/internal/domain"
)

const DefaultChannel = "loyalty:achievements"

type LoyaltyNotifier interface {
	NotifyAchievement(ctx context.Context, achievement domain.LoyaltyAchievement) error
}

type Noop struct{}

func (Noop) NotifyAchievement(context.Context, domain.LoyaltyAchievement) error { return nil }

// Log writes achievements to the process log. Used when no broker is configured.
type Log struct{}

func (Log) NotifyAchievement(_ context.Context, a domain.LoyaltyAchievement) error {
	log.Printf("[notify] loyalty achievement customer=%s tx=%s newly_earned=%d available=%d",
		a.CustomerID, a.TransactionID, a.NewlyEarned, a.TotalAvailablePoints)
	return nil
}

// RedisPublisher publishes achievements as JSON on a pub/sub channel for the
// notification dispatcher to consume.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) NotifyAchievement(ctx context.Context, a domain.LoyaltyAchievement) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.channel, payload).Err()
}
