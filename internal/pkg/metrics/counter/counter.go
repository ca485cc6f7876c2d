package counter

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/custodix/walletcore/internal/pkg/cache"
	"github.com/custodix/walletcore/internal/pkg/database"
)

const (
	webhookOutcomesKey = "webhook:counters:outcomes"

	fieldProcessed = "processed"
	fieldFailed    = "failed"
	fieldRetried   = "retried"
)

// AddWebhookProcessed increments the pending processed counter in Redis
func AddWebhookProcessed() error {
	return incr(fieldProcessed)
}

// AddWebhookFailed increments the pending failed counter in Redis
func AddWebhookFailed() error {
	return incr(fieldFailed)
}

// AddWebhookRetried increments the pending retried counter in Redis
func AddWebhookRetried() error {
	return incr(fieldRetried)
}

func incr(field string) error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, webhookOutcomesKey, field, 1).Err()
}

// FlushAll drains the pending webhook counters and applies them to the
// per-day stats table.
func FlushAll() error {
	return flushOutcomes()
}

// flushOutcomes drains the Redis hash atomically and upserts today's row.
// Uses RENAME to a temporary key for atomic drain without losing in-flight
// increments.
func flushOutcomes() error {
	ctx := context.Background()
	rdb := cache.GetClient()

	// Atomically move the hash to a temp key for draining
	tmpKey := fmt.Sprintf("%s:tmp:%d", webhookOutcomesKey, time.Now().UnixNano())
	if err := rdb.Do(ctx, "RENAME", webhookOutcomesKey, tmpKey).Err(); err != nil {
		// If key does not exist, nothing to flush
		if strings.Contains(strings.ToLower(err.Error()), "no such key") {
			return nil
		}
		// Some Redis libs return redis.Nil; treat as empty
		if err.Error() == "redis: nil" {
			return nil
		}
		return err
	}

	// Ensure cleanup of tmpKey even if later steps fail
	defer rdb.Del(ctx, tmpKey)

	data, err := rdb.HGetAll(ctx, tmpKey).Result()
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	counts := make(map[string]int64, len(data))
	for field, v := range data {
		n, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil || n == 0 {
			continue
		}
		counts[field] = n
	}
	if len(counts) == 0 {
		return nil
	}

	db := database.GetDB()
	sql := "INSERT INTO webhook_daily_stats (stat_date, processed_count, failed_count, retried_count, created_at, updated_at) " +
		"VALUES (CURDATE(), ?, ?, ?, NOW(), NOW()) " +
		"ON DUPLICATE KEY UPDATE " +
		"processed_count = processed_count + VALUES(processed_count), " +
		"failed_count = failed_count + VALUES(failed_count), " +
		"retried_count = retried_count + VALUES(retried_count), " +
		"updated_at = NOW()"
	if err := db.Exec(sql, counts[fieldProcessed], counts[fieldFailed], counts[fieldRetried]).Error; err != nil {
		return err
	}
	return nil
}
