package models

import (
	"time"
)

// EmotionObservation 感知端每帧产出的情绪观测（不可变）
// SubjectID 为空表示未识别（全局范围）
type EmotionObservation struct {
	SubjectID     string                   `json:"subject_id,omitempty"`
	TrackID       *int64                   `json:"track_id,omitempty"`
	Emotion       EmotionLabel             `json:"emotion"`
	Confidence    float64                  `json:"confidence"`
	Probabilities map[EmotionLabel]float64 `json:"probabilities,omitempty"`
	BoundingBox   *BoundingBox             `json:"bounding_box,omitempty"`
	// Embedding 人脸嵌入向量，感知端未做识别时随观测上报，由服务端完成匹配
	Embedding []float64 `json:"embedding,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// BoundingBox 人脸框
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// DetectionEvent 检测事件（对应 detection_events 表）
type DetectionEvent struct {
	DetectionID   string       `json:"detection_id" db:"detection_id"`
	SessionID     *string      `json:"session_id,omitempty" db:"session_id"`
	SubjectID     *string      `json:"subject_id,omitempty" db:"subject_id"`
	TrackID       *int64       `json:"track_id,omitempty" db:"track_id"`
	Timestamp     time.Time    `json:"timestamp" db:"timestamp"`
	Emotion       EmotionLabel `json:"emotion" db:"emotion"`
	Confidence    float64      `json:"confidence" db:"confidence"`
	StressLevel   *float64     `json:"stress_level,omitempty" db:"stress_level"`
	BoundingBox   string       `json:"bounding_box" db:"bounding_box"`     // JSONB
	Probabilities string       `json:"probabilities" db:"probabilities"`   // JSONB
	CreatedAt     time.Time    `json:"created_at" db:"created_at"`
}

// Scope 返回事件所属范围（空字符串表示全局）
func (d *DetectionEvent) Scope() string {
	if d.SubjectID == nil {
		return ""
	}
	return *d.SubjectID
}
