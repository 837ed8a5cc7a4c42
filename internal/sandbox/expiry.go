package sandbox

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"

	"busticket/internal/logger"
	"busticket/internal/models"
)

// WatchExpiredLocks publishes a seat-available event for every seat lock that
// expires in redis, so that clients can refresh their inventory. It returns once
// the subscription is set up and stops when ctx is done.
func WatchExpiredLocks(ctx context.Context, rdb *redis.Client, publisher SeatPublisher, log *logger.Logger) error {
	if _, err := rdb.ConfigSet(ctx, "notify-keyspace-events", "Ex").Result(); err != nil {
		log.Warn("REDIS", fmt.Sprintf("Could not enable keyspace notifications: %v", err))
	}

	val, err := rdb.ConfigGet(ctx, "notify-keyspace-events").Result()
	if err == nil && len(val) == 2 {
		setting, _ := val[1].(string)
		if !strings.Contains(setting, "x") || !strings.Contains(setting, "E") {
			log.Warn("REDIS", "Keyspace notifications not properly configured for expiry events!")
		}
	}

	channel := fmt.Sprintf("__keyevent@%d__:expired", rdb.Options().DB)
	pubsub := rdb.PSubscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}
	log.Info("REDIS", fmt.Sprintf("Subscribed to expired key notifications on %s", channel))

	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handleExpiredKey(ctx, msg.Payload, publisher, log)
			}
		}
	}()
	return nil
}

// handleExpiredKey reports whether key was a seat lock.
func handleExpiredKey(ctx context.Context, key string, publisher SeatPublisher, log *logger.Logger) bool {
	productID, seat, ok := ParseSeatLockKey(key)
	if !ok {
		return false
	}
	log.Info("SEAT_UNLOCK", fmt.Sprintf("Seat lock expired for %s seat %s", productID, seat))

	if publisher == nil {
		return true
	}
	event := models.NewSeatStatusChangeEvent(productID, []string{seat}, models.SeatStatusAvailable)
	if err := publisher.PublishSeatStatus(ctx, event); err != nil {
		log.Error("SEAT_UNLOCK", fmt.Sprintf("Failed to publish seat unlock event: %v", err))
	}
	return true
}
