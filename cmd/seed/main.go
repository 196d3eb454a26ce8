package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin/binding"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/ujian/internal/config"
	"github.com/stemsi/ujian/internal/database"
	"github.com/stemsi/ujian/internal/logger"
	"github.com/stemsi/ujian/internal/model"
	"github.com/stemsi/ujian/internal/repository"
	"github.com/stemsi/ujian/internal/service"
	"github.com/stemsi/ujian/internal/validator"
	"golang.org/x/term"
)

// seedParticipant is one entry of a participants file.
type seedParticipant struct {
	NISN     string `json:"nisn"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

func main() {
	flag.Usage = printUsage
	flag.Parse()
	args := flag.Args()
	if len(args) < 1 {
		printUsage()
		os.Exit(2)
	}

	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	validator.Setup()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	switch args[0] {
	case "exam":
		err = seedExam(ctx, cfg, pool, log, args[1:])
	case "participants":
		err = seedParticipants(ctx, cfg, pool, args[1:])
	case "participant":
		err = createParticipant(ctx, cfg, pool)
	case "reset-password":
		err = resetPassword(ctx, cfg, pool, args[1:])
	default:
		printUsage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Seed failed")
	}
}

func printUsage() {
	fmt.Println("Usage: seed <command> [flags]")
	fmt.Println("Commands:")
	fmt.Println("  exam -file exam.json [-publish]   create an exam with its questions")
	fmt.Println("  participants -file list.json      bulk-create participants")
	fmt.Println("  participant                       create one participant interactively")
	fmt.Println("  reset-password -nisn 0051234567   set a new password for a participant")
}

func seedExam(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, log zerolog.Logger, args []string) error {
	fs := flag.NewFlagSet("exam", flag.ExitOnError)
	file := fs.String("file", "", "Path to the exam JSON document")
	publish := fs.Bool("publish", false, "Publish the exam and warm its cache")
	fs.Parse(args)
	if *file == "" {
		return errors.New("exam requires -file")
	}

	raw, err := os.ReadFile(*file)
	if err != nil {
		return fmt.Errorf("read exam file: %w", err)
	}
	var doc model.SeedExam
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse exam file: %w", err)
	}
	if err := binding.Validator.ValidateStruct(&doc); err != nil {
		for field, msg := range validator.TranslateErrors(err) {
			fmt.Printf("  %s: %s\n", field, msg)
		}
		return errors.New("exam file is invalid")
	}

	var rdb *redis.Client
	if *publish {
		c, err := database.NewRedisClient(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer c.Close()
		rdb = c
	}

	examService := service.NewExamService(
		repository.NewExamRepository(pool),
		repository.NewQuestionRepository(pool),
		rdb,
		log,
	)

	exam := &model.Exam{
		Title:           doc.Title,
		ScheduledStart:  doc.ScheduledStart,
		ScheduledEnd:    doc.ScheduledEnd,
		DurationMinutes: doc.DurationMinutes,
		AccessCode:      doc.AccessCode,
		PassingScore:    doc.PassingScore,
		AllowRetry:      doc.AllowRetry,
	}
	questions := make([]model.Question, len(doc.Questions))
	for i, q := range doc.Questions {
		questions[i] = model.Question{
			Prompt:        q.Prompt,
			MediaURL:      q.MediaURL,
			MediaKind:     q.MediaKind,
			Options:       q.Options,
			CorrectOption: q.CorrectOption,
		}
	}

	if err := examService.CreateWithQuestions(ctx, exam, questions); err != nil {
		return err
	}
	fmt.Printf("Created exam %q with %d questions: %s\n", exam.Title, len(questions), exam.ID)

	if *publish {
		if err := examService.Publish(ctx, exam.ID); err != nil {
			return err
		}
		fmt.Println("Exam published")
	}
	return nil
}

func seedParticipants(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, args []string) error {
	fs := flag.NewFlagSet("participants", flag.ExitOnError)
	file := fs.String("file", "", "Path to a JSON array of {nisn, name, password}")
	fs.Parse(args)
	if *file == "" {
		return errors.New("participants requires -file")
	}

	raw, err := os.ReadFile(*file)
	if err != nil {
		return fmt.Errorf("read participants file: %w", err)
	}
	var list []seedParticipant
	if err := json.Unmarshal(raw, &list); err != nil {
		return fmt.Errorf("parse participants file: %w", err)
	}

	repo := repository.NewParticipantRepository(pool)
	auth := service.NewAuthService(cfg, repo)

	fmt.Printf("=== Seeding %d participants ===\n", len(list))
	created := 0
	for i, p := range list {
		if err := insertParticipant(ctx, repo, auth, p); err != nil {
			fmt.Printf("Error creating %s (NISN: %s): %v\n", p.Name, p.NISN, err)
			continue
		}
		created++
		if (i+1)%10 == 0 {
			fmt.Printf("Processed %d participants...\n", i+1)
		}
	}

	fmt.Printf("\nSeed completed! Successfully added %d/%d participants.\n", created, len(list))
	return nil
}

func createParticipant(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("=== Create New Participant ===")

	fmt.Print("Enter NISN: ")
	nisn, _ := reader.ReadString('\n')
	nisn = strings.TrimSpace(nisn)

	fmt.Print("Enter Name: ")
	name, _ := reader.ReadString('\n')
	name = strings.TrimSpace(name)

	fmt.Print("Enter Password: ")
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println() // Newline after password input
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}

	repo := repository.NewParticipantRepository(pool)
	auth := service.NewAuthService(cfg, repo)
	p := seedParticipant{NISN: nisn, Name: name, Password: string(bytePassword)}
	if err := insertParticipant(ctx, repo, auth, p); err != nil {
		return err
	}

	fmt.Printf("\nSuccess! Participant '%s' (%s) created\n", p.Name, p.NISN)
	return nil
}

func resetPassword(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, args []string) error {
	fs := flag.NewFlagSet("reset-password", flag.ContinueOnError)
	nisn := fs.String("nisn", "", "participant NISN")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *nisn == "" {
		return errors.New("-nisn is required")
	}

	repo := repository.NewParticipantRepository(pool)
	p, err := repo.GetByNISN(ctx, *nisn)
	if err != nil {
		return fmt.Errorf("find participant %s: %w", *nisn, err)
	}

	fmt.Printf("New password for %s (%s): ", p.Name, p.NISN)
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}
	if len(bytePassword) < 6 {
		return errors.New("password must be at least 6 characters")
	}

	auth := service.NewAuthService(cfg, repo)
	hash, err := auth.HashPassword(string(bytePassword))
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := repo.UpdatePassword(ctx, p.ID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	fmt.Printf("Password for '%s' updated\n", p.Name)
	return nil
}

func insertParticipant(ctx context.Context, repo *repository.ParticipantRepository, auth *service.AuthService, p seedParticipant) error {
	req := model.LoginRequest{NISN: p.NISN, Password: p.Password}
	if err := binding.Validator.ValidateStruct(&req); err != nil {
		return fmt.Errorf("invalid nisn or password: %w", err)
	}
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("name is required")
	}
	if len(p.Password) < 6 {
		return errors.New("password must be at least 6 characters")
	}

	hash, err := auth.HashPassword(p.Password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return repo.Create(ctx, &model.Participant{NISN: p.NISN, Name: p.Name, PasswordHash: hash})
}
