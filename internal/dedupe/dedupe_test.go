package dedupe

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
)

const (
	testDeliveryKey = "0f1e2d###1"
	testRedisKey    = "settlement:webhook:0f1e2d###1"
	testTTL         = time.Hour
)

func TestRedisCacheRemembersDeliveries(test *testing.T) {
	test.Parallel()
	client, mock := redismock.NewClientMock()
	cache := NewRedisCache(client, testTTL, nil)
	ctx := context.Background()

	mock.ExpectExists(testRedisKey).SetVal(0)
	mock.ExpectSetNX(testRedisKey, processedMarker, testTTL).SetVal(true)
	mock.ExpectExists(testRedisKey).SetVal(1)

	if cache.Seen(ctx, testDeliveryKey) {
		test.Fatalf("expected unseen delivery")
	}
	cache.Remember(ctx, testDeliveryKey)
	if !cache.Seen(ctx, testDeliveryKey) {
		test.Fatalf("expected remembered delivery")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		test.Fatalf("redis expectations: %v", err)
	}
}

func TestRedisCacheFailsOpen(test *testing.T) {
	test.Parallel()
	client, mock := redismock.NewClientMock()
	cache := NewRedisCache(client, 0, nil)
	ctx := context.Background()

	mock.ExpectExists(testRedisKey).SetErr(errors.New("connection refused"))
	mock.ExpectSetNX(testRedisKey, processedMarker, DefaultTTL).SetErr(errors.New("connection refused"))

	if cache.Seen(ctx, testDeliveryKey) {
		test.Fatalf("expected redis failure to read as a miss")
	}
	cache.Remember(ctx, testDeliveryKey)
	if err := mock.ExpectationsWereMet(); err != nil {
		test.Fatalf("redis expectations: %v", err)
	}
}

func TestRedisCacheIgnoresBlankKeys(test *testing.T) {
	test.Parallel()
	client, mock := redismock.NewClientMock()
	cache := NewRedisCache(client, testTTL, nil)

	if cache.Seen(context.Background(), "  ") {
		test.Fatalf("expected blank key to be unseen")
	}
	cache.Remember(context.Background(), "")
	if err := mock.ExpectationsWereMet(); err != nil {
		test.Fatalf("unexpected redis traffic: %v", err)
	}
}

func TestNopNeverRemembers(test *testing.T) {
	test.Parallel()
	var cache Cache = Nop{}
	cache.Remember(context.Background(), testDeliveryKey)
	if cache.Seen(context.Background(), testDeliveryKey) {
		test.Fatalf("expected nop cache to forget")
	}
}
