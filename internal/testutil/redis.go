//go:build integration

package testutil

import (
	"context"
	"encoding/json"
	"os"
	"sort"
	"testing"

	"github.com/go-redis/redis/v8"
)

// ConfigDB is the SONiC CONFIG_DB index.
const ConfigDB = 4

// SeedRedis loads a JSON seed file into a specific Redis database.
// The JSON format is: { "TABLE": { "key": { "field": "value", ... }, ... }, ... }
// Each entry becomes a Redis hash at key "TABLE|key" with the given fields.
func SeedRedis(t *testing.T, addr string, db int, seedFile string) {
	t.Helper()

	data, err := os.ReadFile(seedFile)
	if err != nil {
		t.Fatalf("reading seed file %s: %v", seedFile, err)
	}

	var tables map[string]map[string]map[string]string
	if err := json.Unmarshal(data, &tables); err != nil {
		t.Fatalf("parsing seed file %s: %v", seedFile, err)
	}

	for table, entries := range tables {
		for key, fields := range entries {
			WriteEntry(t, addr, db, table, key, fields)
		}
	}
}

// FlushDB flushes a specific Redis database.
func FlushDB(t *testing.T, addr string, db int) {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	defer client.Close()

	if err := client.FlushDB(context.Background()).Err(); err != nil {
		t.Fatalf("flushing DB %d: %v", db, err)
	}
}

// SetupConfigDB flushes CONFIG_DB and seeds it with configdb.json.
func SetupConfigDB(t *testing.T) {
	t.Helper()

	addr := RedisAddr()
	FlushDB(t, addr, ConfigDB)
	SeedRedis(t, addr, ConfigDB, SeedPath("configdb.json"))
}

// WriteEntry writes a single hash entry to a specific Redis DB.
func WriteEntry(t *testing.T, addr string, db int, table, key string, fields map[string]string) {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	defer client.Close()

	redisKey := table + "|" + key
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	if len(args) == 0 {
		args = append(args, "NULL", "NULL")
	}
	if err := client.HSet(context.Background(), redisKey, args...).Err(); err != nil {
		t.Fatalf("writing %s: %v", redisKey, err)
	}
}

// ReadEntry reads a hash entry from a specific Redis DB.
func ReadEntry(t *testing.T, addr string, db int, table, key string) map[string]string {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	defer client.Close()

	redisKey := table + "|" + key
	vals, err := client.HGetAll(context.Background(), redisKey).Result()
	if err != nil {
		t.Fatalf("reading %s: %v", redisKey, err)
	}
	return vals
}

// EntryExists checks if a key exists in a specific Redis DB.
func EntryExists(t *testing.T, addr string, db int, table, key string) bool {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	defer client.Close()

	redisKey := table + "|" + key
	n, err := client.Exists(context.Background(), redisKey).Result()
	if err != nil {
		t.Fatalf("checking existence of %s: %v", redisKey, err)
	}
	return n > 0
}

// MatchingKeys returns the sorted keys matching pattern in a Redis DB.
func MatchingKeys(t *testing.T, addr string, db int, pattern string) []string {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	defer client.Close()

	keys, err := client.Keys(context.Background(), pattern).Result()
	if err != nil {
		t.Fatalf("listing %s: %v", pattern, err)
	}
	sort.Strings(keys)
	return keys
}
