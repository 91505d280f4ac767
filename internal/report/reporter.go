package report

import (
	"context"
	"math"
	"time"

	"stressvision/internal/config"
	"stressvision/internal/models"
	"stressvision/internal/repository"

	"go.uber.org/zap"
)

// Reporter 周期报告生成器
// 按固定周期汇总检测事件和报警，写入 reports_15min 表
type Reporter struct {
	config     *config.Config
	detections *repository.DetectionsRepository
	alerts     *repository.AlertsRepository
	reports    *repository.ReportsRepository
	logger     *zap.Logger
}

// NewReporter 创建周期报告生成器
func NewReporter(
	cfg *config.Config,
	detectionsRepo *repository.DetectionsRepository,
	alertsRepo *repository.AlertsRepository,
	reportsRepo *repository.ReportsRepository,
	logger *zap.Logger,
) *Reporter {
	return &Reporter{
		config:     cfg,
		detections: detectionsRepo,
		alerts:     alertsRepo,
		reports:    reportsRepo,
		logger:     logger,
	}
}

// Generate 汇总 [now-interval, now] 周期并持久化
// 周期内没有检测事件时返回 nil 且不写入
func (r *Reporter) Generate(ctx context.Context, now time.Time) (*models.ReportSummary, error) {
	periodStart := now.Add(-time.Duration(r.config.Monitor.ReportIntervalMinutes) * time.Minute)
	periodEnd := now

	detections, err := r.detections.GetDetections(ctx, repository.DetectionFilters{
		StartTime: &periodStart,
		EndTime:   &periodEnd,
		Limit:     100000,
	})
	if err != nil {
		return nil, err
	}

	if len(detections) == 0 {
		r.logger.Debug("No detections in report period, skipping report",
			zap.Time("period_start", periodStart),
			zap.Time("period_end", periodEnd),
		)
		return nil, nil
	}

	summary := r.summarize(detections, periodStart, periodEnd)

	alerts, err := r.alerts.GetAlerts(ctx, repository.AlertFilters{
		StartTime: &periodStart,
		EndTime:   &periodEnd,
		Limit:     10000,
	})
	if err != nil {
		return nil, err
	}
	summary.AlertsGenerated = len(alerts)

	reportID, err := r.reports.CreateReport(ctx, summary)
	if err != nil {
		return nil, err
	}
	summary.ReportID = reportID

	r.logger.Info("Report generated",
		zap.String("report_id", reportID),
		zap.Int("total_detections", summary.TotalDetections),
		zap.Int("subjects_detected", summary.SubjectsDetected),
		zap.Float64("avg_stress_level", summary.AvgStressLevel),
		zap.Int("alerts_generated", summary.AlertsGenerated),
	)

	return summary, nil
}

// summarize 统计周期内的检测事件
func (r *Reporter) summarize(detections []models.DetectionEvent, periodStart, periodEnd time.Time) *models.ReportSummary {
	summary := &models.ReportSummary{
		PeriodStart:         periodStart,
		PeriodEnd:           periodEnd,
		TotalDetections:     len(detections),
		EmotionDistribution: make(map[models.EmotionLabel]int),
		SubjectDetails:      make(map[string]models.SubjectReportDetail),
	}

	type subjectAccum struct {
		count         int
		stressSum     float64
		stressCount   int
		emotionCounts map[models.EmotionLabel]int
		emotionOrder  []models.EmotionLabel
	}

	accums := make(map[string]*subjectAccum)
	var subjectOrder []string

	var totalStress float64
	var stressSamples int

	// 查询结果按时间倒序，反向遍历保持时间顺序，保证同票情绪取先出现者
	for i := len(detections) - 1; i >= 0; i-- {
		d := detections[i]

		summary.EmotionDistribution[d.Emotion]++

		if d.StressLevel != nil {
			totalStress += *d.StressLevel
			stressSamples++
		}

		if d.SubjectID == nil || *d.SubjectID == "" {
			continue
		}

		acc, ok := accums[*d.SubjectID]
		if !ok {
			acc = &subjectAccum{emotionCounts: make(map[models.EmotionLabel]int)}
			accums[*d.SubjectID] = acc
			subjectOrder = append(subjectOrder, *d.SubjectID)
		}

		acc.count++
		if _, seen := acc.emotionCounts[d.Emotion]; !seen {
			acc.emotionOrder = append(acc.emotionOrder, d.Emotion)
		}
		acc.emotionCounts[d.Emotion]++
		if d.StressLevel != nil {
			acc.stressSum += *d.StressLevel
			acc.stressCount++
		}
	}

	summary.SubjectsDetected = len(accums)
	if stressSamples > 0 {
		summary.AvgStressLevel = round2(totalStress / float64(stressSamples))
	}

	for _, subjectID := range subjectOrder {
		acc := accums[subjectID]

		detail := models.SubjectReportDetail{
			DetectionCount: acc.count,
		}
		if acc.stressCount > 0 {
			detail.AvgStressLevel = round2(acc.stressSum / float64(acc.stressCount))
		}

		// 严格大于：同票时保留先出现的情绪
		best := -1
		for _, emotion := range acc.emotionOrder {
			if acc.emotionCounts[emotion] > best {
				best = acc.emotionCounts[emotion]
				detail.PredominantEmotion = emotion
			}
		}

		summary.SubjectDetails[subjectID] = detail
	}

	return summary
}

// LatestReport 获取最新报告（没有报告时返回 nil）
func (r *Reporter) LatestReport(ctx context.Context) (*models.ReportSummary, error) {
	return r.reports.GetLatestReport(ctx)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
