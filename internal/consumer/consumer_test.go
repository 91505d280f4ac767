package consumer

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"stressvision/internal/config"
	"stressvision/internal/models"
	"stressvision/internal/recognizer"
	"stressvision/internal/repository"
	"stressvision/internal/stress"
)

func consumerConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Monitor.StressWindowSize = 30
	cfg.Monitor.MaxHistory = 100
	cfg.Monitor.StressThreshold = 50.0
	cfg.Monitor.IngestQueueSize = 16
	cfg.Monitor.Cache.MetricsKeyPrefix = "stressvision:scope:"
	cfg.Monitor.Cache.MetricsSuffix = ":metrics"
	cfg.Monitor.Cache.AlertKeyPrefix = "stressvision:scope:"
	cfg.Monitor.Cache.AlertSuffix = ":alerts"
	cfg.Monitor.Cache.CacheTTL = 30
	return cfg
}

func setupConsumer(t *testing.T) (*ObservationConsumer, sqlmock.Sqlmock, *miniredis.Miniredis, *stress.Aggregator, *sql.DB) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { redisClient.Close() })

	cfg := consumerConfig()
	logger := zap.NewNop()

	aggregator := stress.NewAggregator(cfg.Monitor.MaxHistory, cfg.Monitor.StressWindowSize, logger)
	matcher := recognizer.NewMatcher(0.70, 3, 0.70, logger)
	detectionsRepo := repository.NewDetectionsRepository(db, logger)
	cache := NewCacheManager(redisClient, cfg, logger)

	c := NewObservationConsumer(cfg, aggregator, matcher, detectionsRepo, cache, nil, logger)
	return c, mock, mr, aggregator, db
}

func TestProcess_PersistsDetectionAndAggregates(t *testing.T) {
	c, mock, mr, aggregator, db := setupConsumer(t)
	defer db.Close()

	now := time.Now()

	mock.ExpectExec(`INSERT INTO detection_events`).
		WithArgs(sqlmock.AnyArg(), nil, sqlmock.AnyArg(), nil, now,
			"angry", 0.9, sqlmock.AnyArg(), "{}", "{}").
		WillReturnResult(sqlmock.NewResult(1, 1))

	c.Process(context.Background(), models.EmotionObservation{
		SubjectID:  "E1",
		Emotion:    models.EmotionAngry,
		Confidence: 0.9,
		Timestamp:  now,
	})

	// 样本写入范围窗口
	assert.Contains(t, aggregator.KnownScopes(), "E1")

	// 范围和全局的指标缓存都被刷新
	assert.True(t, mr.Exists("stressvision:scope:E1:metrics"))
	assert.True(t, mr.Exists("stressvision:scope:global:metrics"))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProcess_MatchesEmbeddingToSubject(t *testing.T) {
	c, mock, _, aggregator, db := setupConsumer(t)
	defer db.Close()

	_, err := c.matcher.Enroll("E1", [][]float64{
		{1.0, 0.0, 0.0},
		{1.0, 0.0, 0.0},
		{1.0, 0.0, 0.0},
	})
	require.NoError(t, err)

	mock.ExpectExec(`INSERT INTO detection_events`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	// 感知端未识别，但携带嵌入向量
	c.Process(context.Background(), models.EmotionObservation{
		Emotion:    models.EmotionNeutral,
		Confidence: 0.8,
		Embedding:  []float64{1.0, 0.0, 0.0},
		Timestamp:  time.Now(),
	})

	assert.Contains(t, aggregator.KnownScopes(), "E1")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProcess_UnmatchedEmbeddingStaysGlobal(t *testing.T) {
	c, mock, _, aggregator, db := setupConsumer(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO detection_events`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	// 注册表为空，匹配失败，观测归入全局范围
	c.Process(context.Background(), models.EmotionObservation{
		Emotion:    models.EmotionNeutral,
		Confidence: 0.8,
		Embedding:  []float64{1.0, 0.0, 0.0},
		Timestamp:  time.Now(),
	})

	assert.Empty(t, aggregator.KnownScopes())

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProcess_StressLevelReflectsIndex(t *testing.T) {
	c, mock, _, _, db := setupConsumer(t)
	defer db.Close()

	now := time.Now()

	// 前 9 条观测
	for i := 0; i < 9; i++ {
		mock.ExpectExec(`INSERT INTO detection_events`).
			WillReturnResult(sqlmock.NewResult(1, 1))
		c.Process(context.Background(), models.EmotionObservation{
			SubjectID:  "E1",
			Emotion:    models.EmotionAngry,
			Confidence: 0.9,
			Timestamp:  now,
		})
	}

	// 第 10 条：窗口内 10/10 负面，指数 100 → 存储 stress_level 1.0
	mock.ExpectExec(`INSERT INTO detection_events`).
		WithArgs(sqlmock.AnyArg(), nil, sqlmock.AnyArg(), nil, now,
			"angry", 0.9, &[]float64{1.0}[0], "{}", "{}").
		WillReturnResult(sqlmock.NewResult(1, 1))

	c.Process(context.Background(), models.EmotionObservation{
		SubjectID:  "E1",
		Emotion:    models.EmotionAngry,
		Confidence: 0.9,
		Timestamp:  now,
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProcess_DBErrorDoesNotBlockCache(t *testing.T) {
	c, mock, mr, _, db := setupConsumer(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO detection_events`).
		WillReturnError(sql.ErrConnDone)

	c.Process(context.Background(), models.EmotionObservation{
		SubjectID:  "E1",
		Emotion:    models.EmotionSad,
		Confidence: 0.7,
		Timestamp:  time.Now(),
	})

	// 落库失败不影响缓存刷新
	assert.True(t, mr.Exists("stressvision:scope:E1:metrics"))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleMessage_InvalidPayload(t *testing.T) {
	c, _, _, _, db := setupConsumer(t)
	defer db.Close()

	err := c.HandleMessage("stressvision/detections/cam1", []byte(`not json`))

	assert.Error(t, err)
}

func TestHandleMessage_UnknownEmotion(t *testing.T) {
	c, _, _, _, db := setupConsumer(t)
	defer db.Close()

	err := c.HandleMessage("stressvision/detections/cam1",
		[]byte(`{"emotion":"ecstatic","confidence":0.9}`))

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown emotion label")
}

func TestHandleMessage_QueueFullDrops(t *testing.T) {
	c, _, _, _, db := setupConsumer(t)
	defer db.Close()

	// 未启动工作协程：填满队列后继续入队应丢弃而不阻塞
	payload := []byte(`{"subject_id":"E1","emotion":"neutral","confidence":0.9}`)
	for i := 0; i < cap(c.queue)+5; i++ {
		err := c.HandleMessage("stressvision/detections/cam1", payload)
		require.NoError(t, err)
	}

	assert.Equal(t, cap(c.queue), len(c.queue))
}

func TestWorker_DrainsQueueOnStop(t *testing.T) {
	c, mock, _, aggregator, db := setupConsumer(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO detection_events`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, c.Start(context.Background()))

	payload := []byte(`{"subject_id":"E1","emotion":"happy","confidence":0.9}`)
	require.NoError(t, c.HandleMessage("stressvision/detections/cam1", payload))

	c.Stop()

	assert.Contains(t, aggregator.KnownScopes(), "E1")
	require.NoError(t, mock.ExpectationsWereMet())
}

// ============================================
// 缓存测试
// ============================================

func TestCacheManager_MetricsRoundTrip(t *testing.T) {
	c, _, mr, _, db := setupConsumer(t)
	defer db.Close()

	ctx := context.Background()
	metrics := stress.Metrics{
		StressIndex:        53.33,
		TotalDetections:    31,
		NegativeCount:      16,
		PredominantEmotion: models.EmotionAngry,
		EmotionDistribution: map[models.EmotionLabel]int{
			models.EmotionAngry: 16,
			models.EmotionHappy: 15,
		},
	}

	require.NoError(t, c.cache.UpdateMetricsCache(ctx, "E1", metrics))

	got, err := c.cache.GetMetricsCache(ctx, "E1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 53.33, got.StressIndex)
	assert.Equal(t, models.EmotionAngry, got.PredominantEmotion)
	assert.Equal(t, 16, got.EmotionDistribution[models.EmotionAngry])

	// TTL 已设置
	assert.Greater(t, mr.TTL("stressvision:scope:E1:metrics"), time.Duration(0))
}

func TestCacheManager_MetricsCacheMiss(t *testing.T) {
	c, _, _, _, db := setupConsumer(t)
	defer db.Close()

	got, err := c.cache.GetMetricsCache(context.Background(), "unknown")

	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCacheManager_AlertCacheRoundTrip(t *testing.T) {
	c, _, _, _, db := setupConsumer(t)
	defer db.Close()

	ctx := context.Background()
	subjectID := "E1"
	alerts := []models.Alert{{
		AlertID:     "alert-1",
		SubjectID:   &subjectID,
		Type:        models.AlertHighStressProlonged,
		Severity:    models.SeverityHigh,
		StressLevel: 0.85,
		Timestamp:   time.Now().Truncate(time.Second),
		Status:      models.AlertStatusPending,
		Message:     "msg",
	}}

	require.NoError(t, c.cache.UpdateAlertCache(ctx, "E1", alerts))

	got, err := c.cache.GetAlertCache(ctx, "E1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "alert-1", got[0].AlertID)
	assert.Equal(t, models.AlertHighStressProlonged, got[0].Type)
}

func TestCacheManager_GlobalScopeKey(t *testing.T) {
	c, _, mr, _, db := setupConsumer(t)
	defer db.Close()

	require.NoError(t, c.cache.UpdateMetricsCache(context.Background(), "", stress.Metrics{}))

	assert.True(t, mr.Exists("stressvision:scope:global:metrics"))
}
