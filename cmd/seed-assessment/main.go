package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"time"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/database"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

func main() {
	var (
		title          string
		duration       int
		startIn        time.Duration
		buffer         int
		maxTabSwitches int
		shuffle        bool
	)
	flag.StringVar(&title, "title", "Ujian Praktik Pemrograman", "Assessment title")
	flag.IntVar(&duration, "duration", 90, "Duration in minutes")
	flag.DurationVar(&startIn, "start-in", 0, "Schedule the start this far from now (0 = unscheduled)")
	flag.IntVar(&buffer, "buffer", 10, "Early start buffer in minutes")
	flag.IntVar(&maxTabSwitches, "max-tab-switches", 3, "Tab switch limit (-1 = unlimited)")
	flag.BoolVar(&shuffle, "shuffle", true, "Shuffle question order per attempt")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	assessmentRepo := repository.NewAssessmentRepository(pool)
	questionRepo := repository.NewQuestionRepository(pool)

	a := &model.Assessment{
		Title:                   title,
		DurationMinutes:         duration,
		EarlyStartBufferMinutes: buffer,
		MaxTabSwitches:          maxTabSwitches,
		ShuffleQuestions:        shuffle,
	}
	if startIn != 0 {
		start := time.Now().Add(startIn).Truncate(time.Minute)
		a.ScheduledStart = &start
	}
	if err := assessmentRepo.Create(ctx, a); err != nil {
		log.Fatal().Err(err).Msg("Failed to create assessment")
	}

	fmt.Printf("=== Seeding assessment %s ===\n", a.ID)

	for i, q := range sampleQuestions() {
		q.AssessmentID = a.ID
		q.OrderNum = i + 1
		if err := questionRepo.Create(ctx, &q); err != nil {
			log.Fatal().Err(err).Int("order_num", q.OrderNum).Msg("Failed to create question")
		}
		fmt.Printf("  %2d. [%s] %s\n", q.OrderNum, q.Kind, q.ID)
	}

	fmt.Printf("\nSeed completed! Assessment ID: %s\n", a.ID)
}

func sampleQuestions() []model.Question {
	options := func(opts ...string) json.RawMessage {
		raw, _ := json.Marshal(opts)
		return raw
	}

	return []model.Question{
		{Kind: model.QuestionKindQuiz, Prompt: "Protokol apa yang digunakan untuk mengirim email?", Options: options("HTTP", "SMTP", "FTP", "SSH")},
		{Kind: model.QuestionKindQuiz, Prompt: "Port default untuk HTTPS adalah?", Options: options("80", "21", "443", "8080")},
		{Kind: model.QuestionKindQuiz, Prompt: "Perintah Git untuk membuat branch baru?", Options: options("git branch", "git merge", "git push", "git stash")},
		{Kind: model.QuestionKindCode, Prompt: "Tulis fungsi yang mengembalikan bilangan Fibonacci ke-n.", Template: "def fib(n):\n    pass\n"},
		{Kind: model.QuestionKindCode, Prompt: "Balik urutan kata dalam sebuah kalimat.", Template: "func reverseWords(s string) string {\n\treturn s\n}\n"},
		{Kind: model.QuestionKindFrontend, Prompt: "Buat kartu profil dengan foto, nama, dan tombol ikuti.", Template: "<div class=\"card\"></div>\n"},
	}
}
