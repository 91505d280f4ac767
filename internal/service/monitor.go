package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"stressvision/internal/config"
	"stressvision/internal/consumer"
	"stressvision/internal/engine"
	"stressvision/internal/models"
	"stressvision/internal/recognizer"
	"stressvision/internal/report"
	"stressvision/internal/repository"
	"stressvision/internal/stress"
	"stressvision/pkg/database"
	"stressvision/pkg/mqtt"
	"stressvision/pkg/redisdb"

	"go.uber.org/zap"
)

// MonitorService 压力监控服务
// 组装摄取、聚合、报警评估和周期报告，管理后台协程的生命周期
type MonitorService struct {
	config *config.Config
	logger *zap.Logger

	db          *sql.DB
	redisClient *redisdb.Client
	mqttClient  *mqtt.Client

	aggregator *stress.Aggregator
	matcher    *recognizer.Matcher
	engine     *engine.Engine
	reporter   *report.Reporter
	consumer   *consumer.ObservationConsumer
	cache      *consumer.CacheManager

	alertsRepo   *repository.AlertsRepository
	subjectsRepo *repository.SubjectsRepository

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMonitorService 创建监控服务并建立所有外部连接
func NewMonitorService(cfg *config.Config, logger *zap.Logger) (*MonitorService, error) {
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	redisClient := redisdb.NewRedisClient(&cfg.Redis)
	if err := redisdb.Ping(context.Background(), redisClient); err != nil {
		database.Close(db)
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	mqttClient, err := mqtt.NewClient(&cfg.MQTT, logger)
	if err != nil {
		redisdb.Close(redisClient)
		database.Close(db)
		return nil, fmt.Errorf("failed to connect to mqtt broker: %w", err)
	}

	detectionsRepo := repository.NewDetectionsRepository(db, logger)
	alertsRepo := repository.NewAlertsRepository(db, logger)
	reportsRepo := repository.NewReportsRepository(db, logger)
	subjectsRepo := repository.NewSubjectsRepository(db, logger)

	aggregator := stress.NewAggregator(cfg.Monitor.MaxHistory, cfg.Monitor.StressWindowSize, logger)
	matcher := recognizer.NewMatcher(
		cfg.Monitor.RecognitionThreshold,
		cfg.Monitor.EnrollmentMinSamples,
		cfg.Monitor.EnrollmentQualityThreshold,
		logger,
	)

	// 从数据库恢复已注册对象的嵌入向量
	entries, err := subjectsRepo.GetSubjectEmbeddings(context.Background())
	if err != nil {
		logger.Warn("Failed to load subject embeddings, starting with empty registry", zap.Error(err))
	} else {
		matcher.Load(entries)
		logger.Info("Loaded subject embeddings", zap.Int("count", len(entries)))
	}

	cache := consumer.NewCacheManager(redisClient, cfg, logger)
	obsConsumer := consumer.NewObservationConsumer(
		cfg, aggregator, matcher, detectionsRepo, cache, mqttClient, logger)
	alertEngine := engine.NewEngine(cfg, aggregator, detectionsRepo, alertsRepo, logger)
	reporter := report.NewReporter(cfg, detectionsRepo, alertsRepo, reportsRepo, logger)

	return &MonitorService{
		config:       cfg,
		logger:       logger,
		db:           db,
		redisClient:  redisClient,
		mqttClient:   mqttClient,
		aggregator:   aggregator,
		matcher:      matcher,
		engine:       alertEngine,
		reporter:     reporter,
		consumer:     obsConsumer,
		cache:        cache,
		alertsRepo:   alertsRepo,
		subjectsRepo: subjectsRepo,
	}, nil
}

// Start 启动摄取和周期任务
func (s *MonitorService) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if err := s.consumer.Start(ctx); err != nil {
		cancel()
		return err
	}

	s.wg.Add(1)
	go s.alertLoop(ctx)

	s.wg.Add(1)
	go s.reportLoop(ctx)

	s.logger.Info("Monitor service started",
		zap.Int("check_alerts_interval_seconds", s.config.Monitor.CheckAlertsIntervalSeconds),
		zap.Int("report_interval_minutes", s.config.Monitor.ReportIntervalMinutes),
	)

	return nil
}

// Stop 优雅停止：先停周期任务，再排空摄取队列，最后断开外部连接
func (s *MonitorService) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	s.consumer.Stop()

	s.mqttClient.Disconnect()
	if err := redisdb.Close(s.redisClient); err != nil {
		s.logger.Warn("Failed to close redis client", zap.Error(err))
	}
	if err := database.Close(s.db); err != nil {
		s.logger.Warn("Failed to close database", zap.Error(err))
	}

	s.logger.Info("Monitor service stopped")
}

// alertLoop 周期性评估所有已知范围的报警条件
func (s *MonitorService) alertLoop(ctx context.Context) {
	defer s.wg.Done()

	interval := time.Duration(s.config.Monitor.CheckAlertsIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.evaluateAlerts(ctx)
		}
	}
}

// evaluateAlerts 评估全局范围加上所有已观测到样本的范围
func (s *MonitorService) evaluateAlerts(ctx context.Context) {
	scopes := append([]string{""}, s.aggregator.KnownScopes()...)

	for _, scope := range scopes {
		created := s.engine.Evaluate(ctx, scope)
		if len(created) == 0 {
			continue
		}
		s.refreshAlertCache(ctx, scope)
	}
}

// refreshAlertCache 新报警产生后刷新该范围的报警缓存
func (s *MonitorService) refreshAlertCache(ctx context.Context, scope string) {
	status := models.AlertStatusPending
	filters := repository.AlertFilters{Status: &status, Limit: 100}
	if scope != "" {
		filters.SubjectID = &scope
	}

	alerts, err := s.alertsRepo.GetAlerts(ctx, filters)
	if err != nil {
		s.logger.Warn("Failed to query alerts for cache refresh", zap.Error(err))
		return
	}

	if err := s.cache.UpdateAlertCache(ctx, scope, alerts); err != nil {
		s.logger.Warn("Failed to update alert cache", zap.Error(err))
	}
}

// reportLoop 周期性生成汇总报告
func (s *MonitorService) reportLoop(ctx context.Context) {
	defer s.wg.Done()

	interval := time.Duration(s.config.Monitor.ReportIntervalMinutes) * time.Minute
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.reporter.Generate(ctx, time.Now()); err != nil {
				s.logger.Error("Failed to generate report", zap.Error(err))
			}
		}
	}
}
