package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

var (
	ErrHoldNotFound = errors.New("hold not found or expired")
	ErrSeatConflict = errors.New("seats unavailable")
)

const lockPrefix = "seat_lock:"

// LockStore keeps seat holds in redis. A hold is one key per seat holding the
// reservation id, plus a reservation key listing those seat keys. Every key expires
// after the lock TTL unless extended.
type LockStore struct {
	Client *redis.Client
	TTL    time.Duration
}

func NewLockStore(client *redis.Client, ttl time.Duration) *LockStore {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &LockStore{Client: client, TTL: ttl}
}

func seatLockKey(productID, seat string) string {
	return lockPrefix + productID + ":" + seat
}

func reservationKey(reservationID string) string {
	return "reservation:" + reservationID
}

func soldKey(productID string) string {
	return "seats_sold:" + productID
}

// ParseSeatLockKey splits a seat lock key into product and seat.
func ParseSeatLockKey(key string) (productID, seat string, ok bool) {
	if !strings.HasPrefix(key, lockPrefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(key, lockPrefix)
	i := strings.LastIndex(rest, ":")
	if i <= 0 || i == len(rest)-1 {
		return "", "", false
	}
	return rest[:i], rest[i+1:], true
}

// KEYS: sold set, reservation key, seat lock keys...
// ARGV: reservation id, ttl ms, product id, seat codes...
var holdScript = redis.NewScript(`
local conflicts = {}
for i = 3, #KEYS do
  local seat = ARGV[i + 1]
  if redis.call('SISMEMBER', KEYS[1], seat) == 1 then
    table.insert(conflicts, seat)
  else
    local owner = redis.call('GET', KEYS[i])
    if owner and owner ~= ARGV[1] then
      table.insert(conflicts, seat)
    end
  end
end
if #conflicts > 0 then
  return conflicts
end

local previous = redis.call('HGET', KEYS[2], 'locks')
if previous then
  for key in string.gmatch(previous, '[^,]+') do
    if redis.call('GET', key) == ARGV[1] then
      redis.call('DEL', key)
    end
  end
end

local locks = {}
local seats = {}
for i = 3, #KEYS do
  redis.call('SET', KEYS[i], ARGV[1], 'PX', ARGV[2])
  table.insert(locks, KEYS[i])
  table.insert(seats, ARGV[i + 1])
end
redis.call('HSET', KEYS[2], 'product', ARGV[3], 'seats', table.concat(seats, ','), 'locks', table.concat(locks, ','))
redis.call('PEXPIRE', KEYS[2], ARGV[2])
return {}
`)

// KEYS: reservation key. ARGV: reservation id, ttl ms.
var extendScript = redis.NewScript(`
local locks = redis.call('HGET', KEYS[1], 'locks')
if not locks then
  return 0
end
for key in string.gmatch(locks, '[^,]+') do
  if redis.call('GET', key) ~= ARGV[1] then
    return 0
  end
end
for key in string.gmatch(locks, '[^,]+') do
  redis.call('PEXPIRE', key, ARGV[2])
end
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return 1
`)

// KEYS: reservation key. ARGV: reservation id.
var releaseScript = redis.NewScript(`
local locks = redis.call('HGET', KEYS[1], 'locks')
if not locks then
  return {}
end
local released = {}
for key in string.gmatch(locks, '[^,]+') do
  if redis.call('GET', key) == ARGV[1] then
    redis.call('DEL', key)
    table.insert(released, key)
  end
end
redis.call('DEL', KEYS[1])
return released
`)

// KEYS: sold set, reservation key, seat lock keys...
// ARGV: reservation id, seat codes...
var sellScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 0 then
  return {'EXPIRED'}
end
local conflicts = {}
for i = 3, #KEYS do
  if redis.call('GET', KEYS[i]) ~= ARGV[1] then
    table.insert(conflicts, ARGV[i - 1])
  end
end
if #conflicts > 0 then
  return conflicts
end
for i = 3, #KEYS do
  redis.call('SADD', KEYS[1], ARGV[i - 1])
  redis.call('DEL', KEYS[i])
end
redis.call('DEL', KEYS[2])
return {}
`)

func seatKeys(productID, reservationID string, seats []string) []string {
	keys := make([]string, 0, len(seats)+2)
	keys = append(keys, soldKey(productID), reservationKey(reservationID))
	for _, s := range seats {
		keys = append(keys, seatLockKey(productID, s))
	}
	return keys
}

// Hold claims all seats for the reservation or none of them. On conflict it returns
// every refused seat and leaves any earlier hold of the reservation untouched. A
// successful hold replaces the reservation's previous seats.
func (l *LockStore) Hold(ctx context.Context, reservationID, productID string, seats []string) ([]string, error) {
	args := make([]interface{}, 0, len(seats)+3)
	args = append(args, reservationID, l.TTL.Milliseconds(), productID)
	for _, s := range seats {
		args = append(args, s)
	}

	conflicts, err := holdScript.Run(ctx, l.Client, seatKeys(productID, reservationID, seats), args...).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("hold %s: %w", reservationID, err)
	}
	if len(conflicts) > 0 {
		return conflicts, ErrSeatConflict
	}
	return nil, nil
}

func (l *LockStore) Extend(ctx context.Context, reservationID string) error {
	ok, err := extendScript.Run(ctx, l.Client, []string{reservationKey(reservationID)}, reservationID, l.TTL.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("extend %s: %w", reservationID, err)
	}
	if ok == 0 {
		return ErrHoldNotFound
	}
	return nil
}

// Release drops every seat the reservation still holds and returns them as
// product:seat pairs. Releasing an unknown reservation is not an error.
func (l *LockStore) Release(ctx context.Context, reservationID string) (productID string, seats []string, err error) {
	productID, _ = l.Client.HGet(ctx, reservationKey(reservationID), "product").Result()
	keys, err := releaseScript.Run(ctx, l.Client, []string{reservationKey(reservationID)}, reservationID).StringSlice()
	if err != nil {
		return "", nil, fmt.Errorf("release %s: %w", reservationID, err)
	}
	for _, k := range keys {
		if _, seat, ok := ParseSeatLockKey(k); ok {
			seats = append(seats, seat)
		}
	}
	return productID, seats, nil
}

// Sell converts the reservation's hold on seats into a sale. It fails with
// ErrHoldNotFound when the hold expired and with ErrSeatConflict when some seats are
// no longer held by the reservation.
func (l *LockStore) Sell(ctx context.Context, reservationID, productID string, seats []string) ([]string, error) {
	args := make([]interface{}, 0, len(seats)+1)
	args = append(args, reservationID)
	for _, s := range seats {
		args = append(args, s)
	}

	res, err := sellScript.Run(ctx, l.Client, seatKeys(productID, reservationID, seats), args...).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("sell %s: %w", reservationID, err)
	}
	if len(res) == 1 && res[0] == "EXPIRED" {
		return nil, ErrHoldNotFound
	}
	if len(res) > 0 {
		return res, ErrSeatConflict
	}
	return nil, nil
}

// MarkSold records seats sold outside the hold protocol, e.g. from the catalog.
func (l *LockStore) MarkSold(ctx context.Context, productID string, seats ...string) error {
	if len(seats) == 0 {
		return nil
	}
	members := make([]interface{}, len(seats))
	for i, s := range seats {
		members[i] = s
	}
	return l.Client.SAdd(ctx, soldKey(productID), members...).Err()
}

// Taken lists sold and currently held seats of a product.
func (l *LockStore) Taken(ctx context.Context, productID string) ([]string, error) {
	sold, err := l.Client.SMembers(ctx, soldKey(productID)).Result()
	if err != nil {
		return nil, err
	}
	taken := make(map[string]struct{}, len(sold))
	for _, s := range sold {
		taken[s] = struct{}{}
	}

	iter := l.Client.Scan(ctx, 0, seatLockKey(productID, "*"), 100).Iterator()
	for iter.Next(ctx) {
		if _, seat, ok := ParseSeatLockKey(iter.Val()); ok {
			taken[seat] = struct{}{}
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}

	out := make([]string, 0, len(taken))
	for s := range taken {
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}
