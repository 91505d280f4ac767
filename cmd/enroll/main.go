package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"

	"stressvision/internal/config"
	"stressvision/internal/recognizer"
	"stressvision/internal/repository"
	"stressvision/pkg/database"
	"stressvision/pkg/logger"

	"go.uber.org/zap"
)

// 离线注册工具：读取嵌入向量样本文件，计算平均向量并写入数据库
func main() {
	subjectID := flag.String("subject", "", "subject ID to enroll")
	samplesFile := flag.String("samples", "", "JSON file containing an array of embedding vectors")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load config: " + err.Error())
	}

	log, err := logger.NewLogger(cfg.Log.Level, "console", "stressvision-enroll")
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer log.Sync()

	if *subjectID == "" || *samplesFile == "" {
		log.Fatal("Both -subject and -samples are required")
	}

	data, err := os.ReadFile(*samplesFile)
	if err != nil {
		log.Fatal("Failed to read samples file", zap.Error(err))
	}

	var embeddings [][]float64
	if err := json.Unmarshal(data, &embeddings); err != nil {
		log.Fatal("Failed to parse samples file", zap.Error(err))
	}

	matcher := recognizer.NewMatcher(
		cfg.Monitor.RecognitionThreshold,
		cfg.Monitor.EnrollmentMinSamples,
		cfg.Monitor.EnrollmentQualityThreshold,
		log,
	)

	entry, err := matcher.Enroll(*subjectID, embeddings)
	if err != nil {
		log.Fatal("Enrollment failed",
			zap.String("subject_id", *subjectID),
			zap.Error(err),
		)
	}

	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close(db)

	subjectsRepo := repository.NewSubjectsRepository(db, log)
	if err := subjectsRepo.UpsertSubjectEmbedding(context.Background(), entry); err != nil {
		log.Fatal("Failed to store subject embedding", zap.Error(err))
	}

	log.Info("Subject enrolled",
		zap.String("subject_id", entry.SubjectID),
		zap.Int("sample_count", entry.SampleCount),
		zap.Float64("quality_score", entry.QualityScore),
	)
}
