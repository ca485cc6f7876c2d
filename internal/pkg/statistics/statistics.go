// Package statistics aggregates processing throughput for the ops API. The
// aggregates are cached in Redis and refreshed on a fixed interval so stats
// endpoints never hammer the database.
package statistics

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/custodix/walletcore/app/models"
	"github.com/custodix/walletcore/internal/pkg/cache"
	"github.com/custodix/walletcore/internal/pkg/database"
)

const (
	CacheKeyProcessedTotal = "statistics:webhooks:processed:total"
	CacheKeyProcessedDaily = "statistics:webhooks:processed:daily:%s" // date YYYY-MM-DD
	CacheKeyFailedTotal    = "statistics:webhooks:failed:total"
	CacheExpiration        = 30 * time.Minute
)

// Data is the throughput summary served to operators.
type Data struct {
	TodayProcessed int64 `json:"today_processed"`
	TotalProcessed int64 `json:"total_processed"`
	TotalFailed    int64 `json:"total_failed"`
}

var (
	lastCacheUpdate     time.Time
	cacheUpdateMutex    sync.Mutex
	cacheUpdateInterval = 5 * time.Minute
)

// UpdateCacheIfNeeded refreshes the cached aggregates when the refresh
// interval has elapsed.
func UpdateCacheIfNeeded() {
	cacheUpdateMutex.Lock()
	defer cacheUpdateMutex.Unlock()

	if time.Since(lastCacheUpdate) <= cacheUpdateInterval {
		return
	}
	if err := UpdateStatisticsCache(); err != nil {
		log.Errorf("[Statistics] Failed to refresh cache: %v", err)
		return
	}
	lastCacheUpdate = time.Now()
}

// ResetCacheUpdateTimer forces the next UpdateCacheIfNeeded to refresh.
func ResetCacheUpdateTimer() {
	cacheUpdateMutex.Lock()
	defer cacheUpdateMutex.Unlock()
	lastCacheUpdate = time.Time{}
}

// UpdateStatisticsCache recomputes the aggregates from the daily stats table
// and stores them in Redis.
func UpdateStatisticsCache() error {
	db := database.GetDB()

	var totalProcessed, totalFailed int64
	if err := db.Model(&models.WebhookDailyStat{}).
		Select("COALESCE(SUM(processed_count), 0)").Scan(&totalProcessed).Error; err != nil {
		return fmt.Errorf("failed to sum processed counts: %w", err)
	}
	if err := db.Model(&models.WebhookDailyStat{}).
		Select("COALESCE(SUM(failed_count), 0)").Scan(&totalFailed).Error; err != nil {
		return fmt.Errorf("failed to sum failed counts: %w", err)
	}

	today := time.Now().Format(time.DateOnly)
	var todayProcessed int64
	if err := db.Model(&models.WebhookDailyStat{}).
		Select("COALESCE(SUM(processed_count), 0)").
		Where("stat_date = ?", today).Scan(&todayProcessed).Error; err != nil {
		return fmt.Errorf("failed to read today's counts: %w", err)
	}

	if err := cache.Set(CacheKeyProcessedTotal, strconv.FormatInt(totalProcessed, 10), CacheExpiration); err != nil {
		return err
	}
	if err := cache.Set(fmt.Sprintf(CacheKeyProcessedDaily, today), strconv.FormatInt(todayProcessed, 10), CacheExpiration); err != nil {
		return err
	}
	if err := cache.Set(CacheKeyFailedTotal, strconv.FormatInt(totalFailed, 10), CacheExpiration); err != nil {
		return err
	}

	log.Debugf("[Statistics] Cache refreshed: processed=%d today=%d failed=%d",
		totalProcessed, todayProcessed, totalFailed)
	return nil
}

// GetStatistics returns the cached aggregates, refreshing them when stale.
func GetStatistics() Data {
	UpdateCacheIfNeeded()

	today := time.Now().Format(time.DateOnly)
	return Data{
		TodayProcessed: cachedInt(fmt.Sprintf(CacheKeyProcessedDaily, today)),
		TotalProcessed: cachedInt(CacheKeyProcessedTotal),
		TotalFailed:    cachedInt(CacheKeyFailedTotal),
	}
}

func cachedInt(key string) int64 {
	v, err := cache.Get(key)
	if err != nil {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
