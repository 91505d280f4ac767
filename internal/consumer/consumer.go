package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"stressvision/internal/config"
	"stressvision/internal/models"
	"stressvision/internal/recognizer"
	"stressvision/internal/repository"
	"stressvision/internal/stress"
	"stressvision/pkg/mqtt"

	"go.uber.org/zap"
)

// 实时指标缓存的统计回看时长
const metricsLookback = time.Hour

// ObservationConsumer 情绪观测消费者
// 订阅感知端 MQTT 主题，经有界队列由单一工作协程串行处理：
// 聚合、阈值检查、事件落库、刷新实时缓存
type ObservationConsumer struct {
	config     *config.Config
	aggregator *stress.Aggregator
	matcher    *recognizer.Matcher
	detections *repository.DetectionsRepository
	cache      *CacheManager
	mqttClient *mqtt.Client
	logger     *zap.Logger

	queue chan models.EmotionObservation
	wg    sync.WaitGroup
}

// NewObservationConsumer 创建观测消费者
func NewObservationConsumer(
	cfg *config.Config,
	aggregator *stress.Aggregator,
	matcher *recognizer.Matcher,
	detectionsRepo *repository.DetectionsRepository,
	cache *CacheManager,
	mqttClient *mqtt.Client,
	logger *zap.Logger,
) *ObservationConsumer {
	return &ObservationConsumer{
		config:     cfg,
		aggregator: aggregator,
		matcher:    matcher,
		detections: detectionsRepo,
		cache:      cache,
		mqttClient: mqttClient,
		logger:     logger,
		queue:      make(chan models.EmotionObservation, cfg.Monitor.IngestQueueSize),
	}
}

// Start 启动工作协程并订阅检测事件主题
func (c *ObservationConsumer) Start(ctx context.Context) error {
	c.wg.Add(1)
	go c.worker(ctx)

	if c.mqttClient != nil {
		topic := c.config.Monitor.DetectionsTopic
		if err := c.mqttClient.Subscribe(topic, c.config.MQTT.QoS, c.HandleMessage); err != nil {
			return fmt.Errorf("failed to subscribe to detections topic: %w", err)
		}
		c.logger.Info("Subscribed to detections topic", zap.String("topic", topic))
	}

	return nil
}

// Stop 停止消费：取消订阅，排空队列后退出
func (c *ObservationConsumer) Stop() {
	if c.mqttClient != nil {
		if err := c.mqttClient.Unsubscribe(c.config.Monitor.DetectionsTopic); err != nil {
			c.logger.Warn("Failed to unsubscribe from detections topic", zap.Error(err))
		}
	}
	close(c.queue)
	c.wg.Wait()
}

// HandleMessage 解析 MQTT 消息并入队
// 队列满时丢弃并记录，不阻塞 MQTT 回调
func (c *ObservationConsumer) HandleMessage(topic string, payload []byte) error {
	var obs models.EmotionObservation
	if err := json.Unmarshal(payload, &obs); err != nil {
		return fmt.Errorf("failed to parse observation: %w", err)
	}

	if !obs.Emotion.Valid() {
		return fmt.Errorf("unknown emotion label: %q", obs.Emotion)
	}

	select {
	case c.queue <- obs:
		return nil
	default:
		c.logger.Warn("Ingest queue full, dropping observation",
			zap.String("topic", topic),
			zap.String("subject_id", obs.SubjectID),
		)
		return nil
	}
}

// worker 单一消费协程，保证每个范围内观测按到达顺序处理
func (c *ObservationConsumer) worker(ctx context.Context) {
	defer c.wg.Done()

	for obs := range c.queue {
		c.Process(ctx, obs)
	}
}

// Process 处理一条观测
// 落库失败只记录，不中断后续观测的处理
func (c *ObservationConsumer) Process(ctx context.Context, obs models.EmotionObservation) {
	subjectID := obs.SubjectID

	// 感知端未识别时用嵌入向量做服务端匹配
	if subjectID == "" && len(obs.Embedding) > 0 && c.matcher != nil {
		result := c.matcher.Match(obs.Embedding)
		if result.SubjectID != "" {
			subjectID = result.SubjectID
			c.logger.Debug("Observation matched to subject",
				zap.String("subject_id", subjectID),
				zap.Float64("similarity", result.Similarity),
			)
		}
	}

	ts := obs.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	c.aggregator.Add(subjectID, obs.Emotion, obs.Confidence, ts)
	c.aggregator.CheckThreshold(subjectID, c.config.Monitor.StressThreshold)

	// 存储的 stress_level 为摄取时刻该范围的压力指数（0-1）
	stressLevel := c.aggregator.StressIndex(subjectID) / 100.0

	event := &models.DetectionEvent{
		TrackID:     obs.TrackID,
		Timestamp:   ts,
		Emotion:     obs.Emotion,
		Confidence:  obs.Confidence,
		StressLevel: &stressLevel,
	}
	if subjectID != "" {
		event.SubjectID = &subjectID
	}
	event.BoundingBox = "{}"
	if obs.BoundingBox != nil {
		event.BoundingBox = marshalJSON(obs.BoundingBox)
	}
	event.Probabilities = "{}"
	if len(obs.Probabilities) > 0 {
		event.Probabilities = marshalJSON(obs.Probabilities)
	}

	if _, err := c.detections.CreateDetection(ctx, event); err != nil {
		c.logger.Error("Failed to persist detection event",
			zap.String("scope", scopeLabel(subjectID)),
			zap.Error(err),
		)
	}

	c.refreshMetricsCache(ctx, subjectID)
}

// refreshMetricsCache 刷新范围和全局的指标缓存
func (c *ObservationConsumer) refreshMetricsCache(ctx context.Context, scope string) {
	if c.cache == nil {
		return
	}

	metrics := c.aggregator.Metrics(scope, metricsLookback)
	if err := c.cache.UpdateMetricsCache(ctx, scope, metrics); err != nil {
		c.logger.Warn("Failed to update metrics cache",
			zap.String("scope", scopeLabel(scope)),
			zap.Error(err),
		)
	}

	if scope != "" {
		global := c.aggregator.Metrics("", metricsLookback)
		if err := c.cache.UpdateMetricsCache(ctx, "", global); err != nil {
			c.logger.Warn("Failed to update global metrics cache", zap.Error(err))
		}
	}
}

// marshalJSON 序列化为 JSONB 字符串，失败时退化为空对象
func marshalJSON(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func scopeLabel(scope string) string {
	if scope == "" {
		return "global"
	}
	return scope
}
