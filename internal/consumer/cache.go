package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"stressvision/internal/config"
	"stressvision/internal/models"
	"stressvision/internal/stress"
	"stressvision/pkg/redisdb"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// CacheManager Redis 实时缓存管理
// 缓存每个范围的聚合指标和待处理报警，供查询端低延迟读取
type CacheManager struct {
	redis  *redisdb.Client
	config *config.Config
	logger *zap.Logger
}

// NewCacheManager 创建缓存管理器
func NewCacheManager(redisClient *redisdb.Client, cfg *config.Config, logger *zap.Logger) *CacheManager {
	return &CacheManager{
		redis:  redisClient,
		config: cfg,
		logger: logger,
	}
}

// metricsKey 指标缓存键，如 "stressvision:scope:E1:metrics"
func (cm *CacheManager) metricsKey(scope string) string {
	return cm.config.Monitor.Cache.MetricsKeyPrefix + cacheScope(scope) + cm.config.Monitor.Cache.MetricsSuffix
}

// alertsKey 报警缓存键，如 "stressvision:scope:E1:alerts"
func (cm *CacheManager) alertsKey(scope string) string {
	return cm.config.Monitor.Cache.AlertKeyPrefix + cacheScope(scope) + cm.config.Monitor.Cache.AlertSuffix
}

// UpdateMetricsCache 写入范围的指标快照
func (cm *CacheManager) UpdateMetricsCache(ctx context.Context, scope string, metrics stress.Metrics) error {
	data, err := json.Marshal(metrics)
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}

	ttl := time.Duration(cm.config.Monitor.Cache.CacheTTL) * time.Second
	if err := cm.redis.Set(ctx, cm.metricsKey(scope), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache metrics: %w", err)
	}

	return nil
}

// GetMetricsCache 读取范围的指标快照（缓存缺失时返回 nil）
func (cm *CacheManager) GetMetricsCache(ctx context.Context, scope string) (*stress.Metrics, error) {
	data, err := cm.redis.Get(ctx, cm.metricsKey(scope)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get cached metrics: %w", err)
	}

	var metrics stress.Metrics
	if err := json.Unmarshal(data, &metrics); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached metrics: %w", err)
	}

	return &metrics, nil
}

// UpdateAlertCache 写入范围的最近报警列表
func (cm *CacheManager) UpdateAlertCache(ctx context.Context, scope string, alerts []models.Alert) error {
	data, err := json.Marshal(alerts)
	if err != nil {
		return fmt.Errorf("failed to marshal alerts: %w", err)
	}

	ttl := time.Duration(cm.config.Monitor.Cache.CacheTTL) * time.Second
	if err := cm.redis.Set(ctx, cm.alertsKey(scope), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache alerts: %w", err)
	}

	return nil
}

// GetAlertCache 读取范围的最近报警列表（缓存缺失时返回 nil）
func (cm *CacheManager) GetAlertCache(ctx context.Context, scope string) ([]models.Alert, error) {
	data, err := cm.redis.Get(ctx, cm.alertsKey(scope)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get cached alerts: %w", err)
	}

	var alerts []models.Alert
	if err := json.Unmarshal(data, &alerts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached alerts: %w", err)
	}

	return alerts, nil
}

func cacheScope(scope string) string {
	if scope == "" {
		return "global"
	}
	return scope
}
