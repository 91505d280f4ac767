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

func setupMockAlertsDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *AlertsRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	logger := zap.NewNop()
	repo := NewAlertsRepository(db, logger)

	return db, mock, repo
}

// ============================================
// 基础 CRUD 操作测试
// ============================================

func TestCreateAlert_Success(t *testing.T) {
	db, mock, repo := setupMockAlertsDB(t)
	defer db.Close()

	ctx := context.Background()
	subjectID := "E1"

	alert := &models.Alert{
		SubjectID:   &subjectID,
		Type:        models.AlertHighStressProlonged,
		Severity:    models.SeverityHigh,
		StressLevel: 0.85,
		Timestamp:   time.Now(),
		Status:      models.AlertStatusPending,
		Message:     "Subject E1 shows prolonged high stress",
	}

	mock.ExpectExec(`INSERT INTO alerts`).
		WithArgs(sqlmock.AnyArg(), &subjectID, "high_stress_prolonged", "high",
			0.85, alert.Timestamp, "pending", alert.Message).
		WillReturnResult(sqlmock.NewResult(1, 1))

	alertID, err := repo.CreateAlert(ctx, alert)

	require.NoError(t, err)
	assert.NotEmpty(t, alertID)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAlert_Success(t *testing.T) {
	db, mock, repo := setupMockAlertsDB(t)
	defer db.Close()

	ctx := context.Background()
	now := time.Now()

	rows := sqlmock.NewRows([]string{
		"alert_id", "subject_id", "alert_type", "severity", "stress_level",
		"timestamp", "status", "message", "resolved_at", "resolved_by",
	}).AddRow(
		"alert-1", "E1", "high_stress_prolonged", "high", 0.85,
		now, "pending", "msg", nil, nil,
	)

	mock.ExpectQuery(`SELECT`).
		WithArgs("alert-1").
		WillReturnRows(rows)

	alert, err := repo.GetAlert(ctx, "alert-1")

	require.NoError(t, err)
	assert.Equal(t, "alert-1", alert.AlertID)
	assert.Equal(t, models.AlertHighStressProlonged, alert.Type)
	assert.Equal(t, models.SeverityHigh, alert.Severity)
	assert.Equal(t, models.AlertStatusPending, alert.Status)
	assert.Nil(t, alert.ResolvedAt)
	assert.Nil(t, alert.ResolvedBy)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAlert_NotFound(t *testing.T) {
	db, mock, repo := setupMockAlertsDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	alert, err := repo.GetAlert(context.Background(), "missing")

	assert.Error(t, err)
	assert.Nil(t, alert)
	assert.Contains(t, err.Error(), "not found")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAlerts_StatusFilter(t *testing.T) {
	db, mock, repo := setupMockAlertsDB(t)
	defer db.Close()

	now := time.Now()

	rows := sqlmock.NewRows([]string{
		"alert_id", "subject_id", "alert_type", "severity", "stress_level",
		"timestamp", "status", "message", "resolved_at", "resolved_by",
	}).AddRow(
		"alert-2", nil, "fatigue_detected", "medium", 0.5,
		now, "pending", "fatigue", nil, nil,
	).AddRow(
		"alert-1", "E1", "high_stress_prolonged", "high", 0.85,
		now.Add(-time.Minute), "pending", "stress", nil, nil,
	)

	status := models.AlertStatusPending
	mock.ExpectQuery(`SELECT`).
		WithArgs("pending", 50).
		WillReturnRows(rows)

	alerts, err := repo.GetAlerts(context.Background(), AlertFilters{
		Status: &status,
		Limit:  50,
	})

	require.NoError(t, err)
	require.Len(t, alerts, 2)
	// 按时间倒序：最新在前
	assert.Equal(t, "alert-2", alerts[0].AlertID)
	assert.Nil(t, alerts[0].SubjectID)
	assert.Equal(t, "", alerts[0].Scope())
	assert.Equal(t, "E1", alerts[1].Scope())

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateAlertStatus_Acknowledged(t *testing.T) {
	db, mock, repo := setupMockAlertsDB(t)
	defer db.Close()

	actor := "operator-1"

	// acknowledged 状态不写 resolved_at
	mock.ExpectExec(`UPDATE alerts`).
		WithArgs("acknowledged", nil, &actor, "alert-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateAlertStatus(context.Background(), "alert-1", models.AlertStatusAcknowledged, &actor)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateAlertStatus_Resolved(t *testing.T) {
	db, mock, repo := setupMockAlertsDB(t)
	defer db.Close()

	actor := "operator-1"

	// resolved 状态写入 resolved_at
	mock.ExpectExec(`UPDATE alerts`).
		WithArgs("resolved", sqlmock.AnyArg(), &actor, "alert-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateAlertStatus(context.Background(), "alert-1", models.AlertStatusResolved, &actor)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateAlertStatus_NotFound(t *testing.T) {
	db, mock, repo := setupMockAlertsDB(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE alerts`).
		WithArgs("acknowledged", nil, nil, "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateAlertStatus(context.Background(), "missing", models.AlertStatusAcknowledged, nil)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	require.NoError(t, mock.ExpectationsWereMet())
}
