package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"stressvision/internal/config"
	"stressvision/internal/models"
	"stressvision/internal/repository"
	"stressvision/internal/stress"

	"go.uber.org/zap"
)

// 高压力检测事件的判定阈值（存储的 stress_level，0-1）
const highStressLevel = 0.7

// 严重级别分界（窗口内平均 stress_level）
const (
	severityHighLevel   = 0.8
	severityMediumLevel = 0.6
)

// 疲劳判定常量（1 小时回看内的绝对计数，保留原始行为）
const (
	fatigueLookback        = time.Hour
	fatigueCountThreshold  = 15
	fatigueNeutralCombined = 20
)

// cooldownKey 冷却键：(报警类型, 范围)
type cooldownKey struct {
	Type  models.AlertType
	Scope string
}

// Engine 报警引擎
// 周期性评估聚合信号，触发并跟踪报警；冷却表为进程生命周期内存状态，不持久化
type Engine struct {
	config     *config.Config
	aggregator *stress.Aggregator
	detections *repository.DetectionsRepository
	alerts     *repository.AlertsRepository
	logger     *zap.Logger

	mu        sync.Mutex
	lastFired map[cooldownKey]time.Time

	now func() time.Time
}

// NewEngine 创建报警引擎
func NewEngine(
	cfg *config.Config,
	aggregator *stress.Aggregator,
	detectionsRepo *repository.DetectionsRepository,
	alertsRepo *repository.AlertsRepository,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		config:     cfg,
		aggregator: aggregator,
		detections: detectionsRepo,
		alerts:     alertsRepo,
		logger:     logger,
		lastFired:  make(map[cooldownKey]time.Time),
		now:        time.Now,
	}
}

// SetClock 注入时钟（测试用）
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Evaluate 评估一个范围，返回本次新建的报警（0、1 或 2 条）
// scope 为空字符串表示全局范围（所有检测事件）
func (e *Engine) Evaluate(ctx context.Context, scope string) []models.Alert {
	var created []models.Alert

	if alert := e.checkHighStress(ctx, scope); alert != nil {
		created = append(created, *alert)
	}
	if alert := e.checkFatigue(ctx, scope); alert != nil {
		created = append(created, *alert)
	}

	return created
}

// checkHighStress 检查持续高压力条件
func (e *Engine) checkHighStress(ctx context.Context, scope string) *models.Alert {
	now := e.now()
	windowStart := now.Add(-time.Duration(e.config.Monitor.AlertWindowMinutes) * time.Minute)

	filters := repository.DetectionFilters{
		StartTime: &windowStart,
		Limit:     10000,
	}
	if scope != "" {
		filters.SubjectID = &scope
	}

	detections, err := e.detections.GetDetections(ctx, filters)
	if err != nil {
		e.logger.Error("Failed to query detections for alert evaluation",
			zap.String("scope", scopeLabel(scope)),
			zap.Error(err),
		)
		return nil
	}

	// 过滤高压力检测
	var highStress []models.DetectionEvent
	for _, d := range detections {
		if d.StressLevel != nil && *d.StressLevel > highStressLevel {
			highStress = append(highStress, d)
		}
	}

	if len(highStress) < e.config.Monitor.AlertThreshold {
		return nil
	}

	key := cooldownKey{Type: models.AlertHighStressProlonged, Scope: scope}
	if !e.cooldownElapsed(key, now) {
		return nil
	}

	// 平均压力决定严重级别
	var total float64
	for _, d := range highStress {
		total += *d.StressLevel
	}
	avgStress := total / float64(len(highStress))

	var severity models.AlertSeverity
	switch {
	case avgStress > severityHighLevel:
		severity = models.SeverityHigh
	case avgStress > severityMediumLevel:
		severity = models.SeverityMedium
	default:
		severity = models.SeverityLow
	}

	var message string
	if scope != "" {
		message = fmt.Sprintf("Subject %s shows prolonged high stress levels", scope)
	} else {
		message = fmt.Sprintf("Detected %d high-stress events in %d minutes",
			len(highStress), e.config.Monitor.AlertWindowMinutes)
	}

	alert := &models.Alert{
		Type:        models.AlertHighStressProlonged,
		Severity:    severity,
		StressLevel: avgStress,
		Timestamp:   now,
		Status:      models.AlertStatusPending,
		Message:     message,
	}
	if scope != "" {
		alert.SubjectID = &scope
	}

	return e.persistAlert(ctx, key, alert, now)
}

// checkFatigue 检查疲劳条件（独立于高压力检查）
func (e *Engine) checkFatigue(ctx context.Context, scope string) *models.Alert {
	now := e.now()

	distribution := e.aggregator.EmotionDistribution(scope, fatigueLookback)
	fatigueCount := distribution[models.EmotionFatigue]
	neutralCount := distribution[models.EmotionNeutral]

	if fatigueCount < fatigueCountThreshold && fatigueCount+neutralCount < fatigueNeutralCombined {
		return nil
	}

	key := cooldownKey{Type: models.AlertFatigueDetected, Scope: scope}
	if !e.cooldownElapsed(key, now) {
		return nil
	}

	var message string
	if scope != "" {
		message = fmt.Sprintf("Fatigue detected for subject %s", scope)
	} else {
		message = "Fatigue detected across multiple subjects"
	}

	alert := &models.Alert{
		Type:        models.AlertFatigueDetected,
		Severity:    models.SeverityMedium,
		StressLevel: 0.5,
		Timestamp:   now,
		Status:      models.AlertStatusPending,
		Message:     message,
	}
	if scope != "" {
		alert.SubjectID = &scope
	}

	return e.persistAlert(ctx, key, alert, now)
}

// persistAlert 写入报警并更新冷却表
// 写入失败时不更新冷却表，下个评估周期可以重试
func (e *Engine) persistAlert(ctx context.Context, key cooldownKey, alert *models.Alert, now time.Time) *models.Alert {
	alertID, err := e.alerts.CreateAlert(ctx, alert)
	if err != nil {
		e.logger.Error("Failed to create alert",
			zap.String("alert_type", string(alert.Type)),
			zap.String("scope", scopeLabel(key.Scope)),
			zap.Error(err),
		)
		return nil
	}
	alert.AlertID = alertID

	e.mu.Lock()
	e.lastFired[key] = now
	e.mu.Unlock()

	e.logger.Info("Alert created",
		zap.String("alert_id", alertID),
		zap.String("alert_type", string(alert.Type)),
		zap.String("severity", string(alert.Severity)),
		zap.String("scope", scopeLabel(key.Scope)),
		zap.Float64("stress_level", alert.StressLevel),
	)

	return alert
}

// cooldownElapsed 检查冷却是否结束（没有记录时视为立即可触发）
func (e *Engine) cooldownElapsed(key cooldownKey, now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	last, ok := e.lastFired[key]
	if !ok {
		return true
	}

	cooldown := time.Duration(e.config.Monitor.CooldownMinutes) * time.Minute
	return now.Sub(last) >= cooldown
}

// Acknowledge 确认报警：pending → acknowledged
// 已确认或已解决的报警不能再次确认
func (e *Engine) Acknowledge(ctx context.Context, alertID, actor string) error {
	alert, err := e.alerts.GetAlert(ctx, alertID)
	if err != nil {
		return err
	}

	if alert.Status != models.AlertStatusPending {
		return fmt.Errorf("cannot acknowledge alert %s in status %s", alertID, alert.Status)
	}

	return e.alerts.UpdateAlertStatus(ctx, alertID, models.AlertStatusAcknowledged, &actor)
}

// Resolve 解决报警：pending|acknowledged → resolved
// 对已解决的报警重复调用为幂等成功
func (e *Engine) Resolve(ctx context.Context, alertID, actor string) error {
	alert, err := e.alerts.GetAlert(ctx, alertID)
	if err != nil {
		return err
	}

	if alert.Status == models.AlertStatusResolved {
		return nil
	}

	return e.alerts.UpdateAlertStatus(ctx, alertID, models.AlertStatusResolved, &actor)
}

// PendingAlerts 获取待处理报警（按时间倒序）
func (e *Engine) PendingAlerts(ctx context.Context, limit int) ([]models.Alert, error) {
	status := models.AlertStatusPending
	return e.alerts.GetAlerts(ctx, repository.AlertFilters{
		Status: &status,
		Limit:  limit,
	})
}

func scopeLabel(scope string) string {
	if scope == "" {
		return "global"
	}
	return scope
}
