package config

import (
	"fmt"
	"os"
	"strconv"

	"stressvision/pkg/config"
)

// Config 压力监控服务配置
type Config struct {
	Database config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig

	// 监控核心配置
	Monitor struct {
		// 报警判定
		AlertThreshold     int // 触发报警所需的高压力检测数量，默认 10
		AlertWindowMinutes int // 报警评估窗口（分钟），默认 15
		CooldownMinutes    int // 同一报警键的最小间隔（分钟），默认 60

		// 压力指数计算
		StressWindowSize int     // 压力指数计算窗口（样本数），默认 30
		MaxHistory       int     // 每个范围保留的最大样本数，默认 100
		StressThreshold  float64 // 压力事件阈值（0-100），默认 50.0

		// 身份识别
		RecognitionThreshold       float64 // 识别相似度阈值（0-1），默认 0.70
		EnrollmentMinSamples       int     // 注册所需最少样本数，默认 3
		EnrollmentQualityThreshold float64 // 注册质量阈值（0-1），默认 0.70

		// 周期任务
		ReportIntervalMinutes      int // 报告生成间隔（分钟），默认 15
		CheckAlertsIntervalSeconds int // 报警评估间隔（秒），默认 30

		// Redis 缓存配置
		Cache struct {
			MetricsKeyPrefix string // 实时指标缓存键前缀，如 "stressvision:scope:"
			MetricsSuffix    string // 实时指标缓存键后缀，如 ":metrics"
			AlertKeyPrefix   string // 报警缓存键前缀，如 "stressvision:scope:"
			AlertSuffix      string // 报警缓存键后缀，如 ":alerts"
			CacheTTL         int    // 缓存 TTL（秒），默认 30秒
		}

		// MQTT 订阅配置
		DetectionsTopic string // 感知端检测事件主题，默认 "stressvision/detections/#"
		IngestQueueSize int    // 摄取队列缓冲大小，默认 256
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	// 数据库配置
	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "stressvision")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")

	// Redis 配置
	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = 0

	// MQTT 配置
	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "stressvision-core")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.QoS = 1

	// 监控核心配置
	cfg.Monitor.AlertThreshold = getEnvInt("ALERT_THRESHOLD", 10)
	cfg.Monitor.AlertWindowMinutes = getEnvInt("ALERT_WINDOW_MINUTES", 15)
	cfg.Monitor.CooldownMinutes = getEnvInt("COOLDOWN_MINUTES", 60)
	cfg.Monitor.StressWindowSize = getEnvInt("STRESS_WINDOW_SIZE", 30)
	cfg.Monitor.MaxHistory = getEnvInt("MAX_HISTORY", 100)
	cfg.Monitor.StressThreshold = getEnvFloat("STRESS_THRESHOLD", 50.0)
	cfg.Monitor.RecognitionThreshold = getEnvFloat("RECOGNITION_THRESHOLD", 0.70)
	cfg.Monitor.EnrollmentMinSamples = getEnvInt("ENROLLMENT_MIN_SAMPLES", 3)
	cfg.Monitor.EnrollmentQualityThreshold = getEnvFloat("ENROLLMENT_QUALITY_THRESHOLD", 0.70)
	cfg.Monitor.ReportIntervalMinutes = getEnvInt("REPORT_INTERVAL_MINUTES", 15)
	cfg.Monitor.CheckAlertsIntervalSeconds = getEnvInt("CHECK_ALERTS_INTERVAL_SECONDS", 30)

	// 缓存配置
	cfg.Monitor.Cache.MetricsKeyPrefix = getEnv("CACHE_METRICS_PREFIX", "stressvision:scope:")
	cfg.Monitor.Cache.MetricsSuffix = ":metrics"
	cfg.Monitor.Cache.AlertKeyPrefix = getEnv("CACHE_ALERT_PREFIX", "stressvision:scope:")
	cfg.Monitor.Cache.AlertSuffix = ":alerts"
	cfg.Monitor.Cache.CacheTTL = 30 // 30秒

	// MQTT 订阅
	cfg.Monitor.DetectionsTopic = getEnv("DETECTIONS_TOPIC", "stressvision/detections/#")
	cfg.Monitor.IngestQueueSize = getEnvInt("INGEST_QUEUE_SIZE", 256)

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate 校验配置（非法配置为启动期致命错误）
func (c *Config) Validate() error {
	m := &c.Monitor
	if m.AlertThreshold <= 0 {
		return fmt.Errorf("invalid config: alert_threshold must be positive, got %d", m.AlertThreshold)
	}
	if m.AlertWindowMinutes <= 0 {
		return fmt.Errorf("invalid config: alert_window_minutes must be positive, got %d", m.AlertWindowMinutes)
	}
	if m.CooldownMinutes <= 0 {
		return fmt.Errorf("invalid config: cooldown_minutes must be positive, got %d", m.CooldownMinutes)
	}
	if m.StressWindowSize <= 0 {
		return fmt.Errorf("invalid config: stress_window_size must be positive, got %d", m.StressWindowSize)
	}
	if m.MaxHistory <= 0 {
		return fmt.Errorf("invalid config: max_history must be positive, got %d", m.MaxHistory)
	}
	if m.StressThreshold < 0 || m.StressThreshold > 100 {
		return fmt.Errorf("invalid config: stress_threshold must be in [0,100], got %f", m.StressThreshold)
	}
	if m.RecognitionThreshold < 0 || m.RecognitionThreshold > 1 {
		return fmt.Errorf("invalid config: recognition_threshold must be in [0,1], got %f", m.RecognitionThreshold)
	}
	if m.EnrollmentMinSamples <= 0 {
		return fmt.Errorf("invalid config: enrollment_min_samples must be positive, got %d", m.EnrollmentMinSamples)
	}
	if m.EnrollmentQualityThreshold < 0 || m.EnrollmentQualityThreshold > 1 {
		return fmt.Errorf("invalid config: enrollment_quality_threshold must be in [0,1], got %f", m.EnrollmentQualityThreshold)
	}
	if m.ReportIntervalMinutes <= 0 {
		return fmt.Errorf("invalid config: report_interval_minutes must be positive, got %d", m.ReportIntervalMinutes)
	}
	if m.CheckAlertsIntervalSeconds <= 0 {
		return fmt.Errorf("invalid config: check_alerts_interval_seconds must be positive, got %d", m.CheckAlertsIntervalSeconds)
	}
	if m.IngestQueueSize <= 0 {
		return fmt.Errorf("invalid config: ingest_queue_size must be positive, got %d", m.IngestQueueSize)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
