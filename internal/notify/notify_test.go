package notify

import (
	"bytes"
	"context"
	"log"
	"os"
	"strings"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"

	"laundrypos/backend/internal/domain"
)

func TestLogNotifierWritesAchievement(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	err := Log{}.NotifyAchievement(context.Background(), domain.LoyaltyAchievement{
		CustomerID: "cust-1", TransactionID: "tx-1", NewlyEarned: 1, TotalAvailablePoints: 2,
	})
	if err != nil {
		t.Fatalf("notify failed: %v", err)
	}
	if !strings.Contains(buf.String(), "customer=cust-1") || !strings.Contains(buf.String(), "newly_earned=1") {
		t.Fatalf("unexpected log line %q", buf.String())
	}
}

func TestRedisPublisherDefaultsChannel(t *testing.T) {
	p := NewRedisPublisher(nil, "")
	if p.channel != DefaultChannel {
		t.Fatalf("expected default channel, got %q", p.channel)
	}
}

func TestRedisPublisherReportsUnreachableBroker(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })

	err := NewRedisPublisher(client, "test:achievements").NotifyAchievement(context.Background(), domain.LoyaltyAchievement{CustomerID: "cust-1"})
	if err == nil {
		t.Fatalf("expected publish to fail without a broker")
	}
}
