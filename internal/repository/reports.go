package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"stressvision/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ReportsRepository 周期报告仓库
type ReportsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewReportsRepository 创建周期报告仓库
func NewReportsRepository(db *sql.DB, logger *zap.Logger) *ReportsRepository {
	return &ReportsRepository{
		db:     db,
		logger: logger,
	}
}

// CreateReport 写入周期报告，返回分配的 report_id
func (r *ReportsRepository) CreateReport(ctx context.Context, summary *models.ReportSummary) (string, error) {
	if summary == nil {
		return "", fmt.Errorf("report summary is required")
	}

	reportID := summary.ReportID
	if reportID == "" {
		reportID = uuid.NewString()
	}

	distribution, err := json.Marshal(summary.EmotionDistribution)
	if err != nil {
		return "", fmt.Errorf("failed to marshal emotion distribution: %w", err)
	}

	details, err := json.Marshal(summary.SubjectDetails)
	if err != nil {
		return "", fmt.Errorf("failed to marshal subject details: %w", err)
	}

	query := `
		INSERT INTO reports_15min
			(report_id, period_start, period_end, total_detections,
			 subjects_detected, avg_stress_level, emotion_distribution,
			 alerts_generated, subject_details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = r.db.ExecContext(ctx, query,
		reportID,
		summary.PeriodStart,
		summary.PeriodEnd,
		summary.TotalDetections,
		summary.SubjectsDetected,
		summary.AvgStressLevel,
		distribution,
		summary.AlertsGenerated,
		details,
	)
	if err != nil {
		return "", fmt.Errorf("failed to create report: %w", err)
	}

	return reportID, nil
}

// GetLatestReport 获取最新报告（没有报告时返回 nil）
func (r *ReportsRepository) GetLatestReport(ctx context.Context) (*models.ReportSummary, error) {
	query := `
		SELECT
			report_id,
			period_start,
			period_end,
			total_detections,
			subjects_detected,
			avg_stress_level,
			emotion_distribution,
			alerts_generated,
			subject_details,
			created_at
		FROM reports_15min
		ORDER BY period_end DESC
		LIMIT 1
	`

	var summary models.ReportSummary
	var distribution, details []byte

	err := r.db.QueryRowContext(ctx, query).Scan(
		&summary.ReportID,
		&summary.PeriodStart,
		&summary.PeriodEnd,
		&summary.TotalDetections,
		&summary.SubjectsDetected,
		&summary.AvgStressLevel,
		&distribution,
		&summary.AlertsGenerated,
		&details,
		&summary.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest report: %w", err)
	}

	if err := json.Unmarshal(distribution, &summary.EmotionDistribution); err != nil {
		return nil, fmt.Errorf("failed to unmarshal emotion distribution: %w", err)
	}
	if err := json.Unmarshal(details, &summary.SubjectDetails); err != nil {
		return nil, fmt.Errorf("failed to unmarshal subject details: %w", err)
	}

	return &summary, nil
}
