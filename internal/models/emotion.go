package models

import "fmt"

// EmotionLabel 情绪标签（闭合集合）
type EmotionLabel string

const (
	EmotionNeutral  EmotionLabel = "neutral"
	EmotionHappy    EmotionLabel = "happy"
	EmotionSad      EmotionLabel = "sad"
	EmotionAngry    EmotionLabel = "angry"
	EmotionFear     EmotionLabel = "fear"
	EmotionSurprise EmotionLabel = "surprise"
	EmotionDisgust  EmotionLabel = "disgust"
	// 压力相关的扩展标签
	EmotionStressLow  EmotionLabel = "stress_low"
	EmotionStressHigh EmotionLabel = "stress_high"
	EmotionFatigue    EmotionLabel = "fatigue"
)

// AllEmotions 所有合法的情绪标签（按固定顺序）
var AllEmotions = []EmotionLabel{
	EmotionNeutral,
	EmotionHappy,
	EmotionSad,
	EmotionAngry,
	EmotionFear,
	EmotionSurprise,
	EmotionDisgust,
	EmotionStressLow,
	EmotionStressHigh,
	EmotionFatigue,
}

// NegativeEmotions 负面情绪集合（用于压力指数计算，固定列表）
var NegativeEmotions = []EmotionLabel{
	EmotionAngry,
	EmotionFear,
	EmotionSad,
	EmotionDisgust,
	EmotionStressHigh,
	EmotionFatigue,
}

// IsNegative 判断是否为负面情绪
func (e EmotionLabel) IsNegative() bool {
	switch e {
	case EmotionAngry, EmotionFear, EmotionSad, EmotionDisgust, EmotionStressHigh, EmotionFatigue:
		return true
	case EmotionNeutral, EmotionHappy, EmotionSurprise, EmotionStressLow:
		return false
	}
	return false
}

// Valid 判断是否为合法标签
func (e EmotionLabel) Valid() bool {
	switch e {
	case EmotionNeutral, EmotionHappy, EmotionSad, EmotionAngry, EmotionFear,
		EmotionSurprise, EmotionDisgust, EmotionStressLow, EmotionStressHigh, EmotionFatigue:
		return true
	}
	return false
}

// ParseEmotionLabel 解析情绪标签字符串
func ParseEmotionLabel(s string) (EmotionLabel, error) {
	label := EmotionLabel(s)
	if !label.Valid() {
		return "", fmt.Errorf("unknown emotion label: %q", s)
	}
	return label, nil
}
