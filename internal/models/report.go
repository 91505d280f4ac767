package models

import (
	"time"
)

// SubjectReportDetail 单个被跟踪对象在报告期内的统计
type SubjectReportDetail struct {
	DetectionCount     int          `json:"detection_count"`
	AvgStressLevel     float64      `json:"avg_stress_level"`
	PredominantEmotion EmotionLabel `json:"predominant_emotion"`
}

// ReportSummary 周期报告（对应 reports_15min 表）
type ReportSummary struct {
	ReportID            string                         `json:"report_id" db:"report_id"`
	PeriodStart         time.Time                      `json:"period_start" db:"period_start"`
	PeriodEnd           time.Time                      `json:"period_end" db:"period_end"`
	TotalDetections     int                            `json:"total_detections" db:"total_detections"`
	SubjectsDetected    int                            `json:"subjects_detected" db:"subjects_detected"`
	AvgStressLevel      float64                        `json:"avg_stress_level" db:"avg_stress_level"`
	EmotionDistribution map[EmotionLabel]int           `json:"emotion_distribution"`
	AlertsGenerated     int                            `json:"alerts_generated" db:"alerts_generated"`
	SubjectDetails      map[string]SubjectReportDetail `json:"subject_details"`
	CreatedAt           time.Time                      `json:"created_at" db:"created_at"`
}
