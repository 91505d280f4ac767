package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"stressvision/internal/models"
)

func setupMockReportsDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *ReportsRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	logger := zap.NewNop()
	repo := NewReportsRepository(db, logger)

	return db, mock, repo
}

func TestCreateReport_Success(t *testing.T) {
	db, mock, repo := setupMockReportsDB(t)
	defer db.Close()

	now := time.Now()
	summary := &models.ReportSummary{
		PeriodStart:     now.Add(-15 * time.Minute),
		PeriodEnd:       now,
		TotalDetections: 42,
		SubjectsDetected: 3,
		AvgStressLevel:  0.37,
		EmotionDistribution: map[models.EmotionLabel]int{
			models.EmotionNeutral: 30,
			models.EmotionAngry:   12,
		},
		AlertsGenerated: 1,
		SubjectDetails: map[string]models.SubjectReportDetail{
			"E1": {DetectionCount: 20, AvgStressLevel: 0.5, PredominantEmotion: models.EmotionAngry},
		},
	}

	mock.ExpectExec(`INSERT INTO reports_15min`).
		WithArgs(sqlmock.AnyArg(), summary.PeriodStart, summary.PeriodEnd, 42,
			3, 0.37, sqlmock.AnyArg(), 1, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	reportID, err := repo.CreateReport(context.Background(), summary)

	require.NoError(t, err)
	assert.NotEmpty(t, reportID)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetLatestReport_Success(t *testing.T) {
	db, mock, repo := setupMockReportsDB(t)
	defer db.Close()

	now := time.Now()

	rows := sqlmock.NewRows([]string{
		"report_id", "period_start", "period_end", "total_detections",
		"subjects_detected", "avg_stress_level", "emotion_distribution",
		"alerts_generated", "subject_details", "created_at",
	}).AddRow(
		"report-1", now.Add(-15*time.Minute), now, 42,
		3, 0.37, []byte(`{"neutral":30,"angry":12}`),
		1, []byte(`{"E1":{"detection_count":20,"avg_stress_level":0.5,"predominant_emotion":"angry"}}`), now,
	)

	mock.ExpectQuery(`SELECT`).
		WillReturnRows(rows)

	summary, err := repo.GetLatestReport(context.Background())

	require.NoError(t, err)
	require.NotNil(t, summary)
	assert.Equal(t, "report-1", summary.ReportID)
	assert.Equal(t, 42, summary.TotalDetections)
	assert.Equal(t, 30, summary.EmotionDistribution[models.EmotionNeutral])
	assert.Equal(t, models.EmotionAngry, summary.SubjectDetails["E1"].PredominantEmotion)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetLatestReport_NoReports(t *testing.T) {
	db, mock, repo := setupMockReportsDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT`).
		WillReturnError(sql.ErrNoRows)

	summary, err := repo.GetLatestReport(context.Background())

	// 没有报告不是错误
	require.NoError(t, err)
	assert.Nil(t, summary)

	require.NoError(t, mock.ExpectationsWereMet())
}
