package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/ujian/internal/config"
	"github.com/stemsi/ujian/internal/model"
)

// Domain Errors
var (
	ErrExamNotFound  = errors.New("exam not found")
	ErrNoQuestions   = errors.New("exam has no questions, cannot publish")
	ErrExamNotDraft  = errors.New("exam status is not DRAFT")
	ErrInvalidAnswer = errors.New("correct option is not one of the question's options")
	ErrInvalidOption = errors.New("option IDs must be non-empty and unique")
)

// optionSeparator joins option IDs in the options hash. Option IDs are
// validated against it on seed.
const optionSeparator = "\x1f"

// ExamService handles exam lookups and the Redis exam cache.
type ExamService struct {
	examRepo     ExamStore
	questionRepo QuestionStore
	rdb          *redis.Client
	log          zerolog.Logger
}

// NewExamService creates a new ExamService.
func NewExamService(
	examRepo ExamStore,
	questionRepo QuestionStore,
	rdb *redis.Client,
	log zerolog.Logger,
) *ExamService {
	return &ExamService{
		examRepo:     examRepo,
		questionRepo: questionRepo,
		rdb:          rdb,
		log:          log.With().Str("component", "exam_service").Logger(),
	}
}

// GetByID retrieves an exam by its UUID.
func (s *ExamService) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	exam, err := s.examRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("get exam: %w", err)
	}
	return exam, nil
}

// GetSummary returns what a participant may see before starting. Only
// published exams are visible.
func (s *ExamService) GetSummary(ctx context.Context, id uuid.UUID) (*model.ExamSummary, error) {
	exam, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if exam.Status != model.ExamStatusPublished {
		return nil, ErrExamNotFound
	}

	count, err := s.questionRepo.CountByExam(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("count questions: %w", err)
	}

	return &model.ExamSummary{
		ID:              exam.ID,
		Title:           exam.Title,
		DurationMinutes: exam.DurationMinutes,
		ScheduledStart:  exam.ScheduledStart,
		ScheduledEnd:    exam.ScheduledEnd,
		QuestionCount:   count,
	}, nil
}

// CreateWithQuestions inserts a draft exam and its questions in order.
func (s *ExamService) CreateWithQuestions(ctx context.Context, exam *model.Exam, questions []model.Question) error {
	for i := range questions {
		if err := validateQuestion(&questions[i]); err != nil {
			return fmt.Errorf("question %d: %w", i+1, err)
		}
	}

	exam.Status = model.ExamStatusDraft
	if err := s.examRepo.Create(ctx, exam); err != nil {
		return fmt.Errorf("create exam: %w", err)
	}

	for i := range questions {
		q := &questions[i]
		q.ExamID = exam.ID
		q.OrderNum = i + 1
		if q.MediaKind == "" {
			q.MediaKind = model.MediaNone
		}
		if err := s.questionRepo.Create(ctx, q); err != nil {
			return fmt.Errorf("create question %d: %w", i+1, err)
		}
	}
	return nil
}

func validateQuestion(q *model.Question) error {
	seen := make(map[string]struct{}, len(q.Options))
	for _, o := range q.Options {
		if o.ID == "" || strings.Contains(o.ID, optionSeparator) {
			return ErrInvalidOption
		}
		if _, dup := seen[o.ID]; dup {
			return ErrInvalidOption
		}
		seen[o.ID] = struct{}{}
	}
	if !q.HasOption(q.CorrectOption) {
		return ErrInvalidAnswer
	}
	return nil
}

// Publish changes exam status to PUBLISHED and caches the payload + answer key in Redis.
func (s *ExamService) Publish(ctx context.Context, examID uuid.UUID) error {
	exam, err := s.GetByID(ctx, examID)
	if err != nil {
		return err
	}
	if exam.Status != model.ExamStatusDraft {
		return ErrExamNotDraft
	}

	if err := s.WarmExamCache(ctx, exam); err != nil {
		return err
	}

	if err := s.examRepo.UpdateStatus(ctx, examID, model.ExamStatusPublished); err != nil {
		return fmt.Errorf("update status: %w", err)
	}

	s.log.Info().Str("exam_id", examID.String()).Msg("Exam published")
	return nil
}

// WarmExamCache loads an exam's payload and answer key from PostgreSQL into Redis.
func (s *ExamService) WarmExamCache(ctx context.Context, exam *model.Exam) error {
	questions, err := s.questionRepo.ListByExam(ctx, exam.ID)
	if err != nil {
		return fmt.Errorf("list questions: %w", err)
	}
	if len(questions) == 0 {
		return ErrNoQuestions
	}

	payload, answerKey := buildExamCache(exam, questions)

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	examKey := exam.ID.String()
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, config.CacheKey.ExamPayloadKey(examKey), payloadJSON, 0)
	pipe.Del(ctx, config.CacheKey.ExamAnswerKey(examKey))
	pipe.HSet(ctx, config.CacheKey.ExamAnswerKey(examKey), answerKey)
	pipe.Del(ctx, config.CacheKey.ExamOptionsKey(examKey))
	pipe.HSet(ctx, config.CacheKey.ExamOptionsKey(examKey), optionIndex(questions))

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache to redis: %w", err)
	}

	s.log.Debug().
		Str("exam_id", examKey).
		Int("questions", len(questions)).
		Msg("Cache warmed")
	return nil
}

// buildExamCache splits questions into the participant payload (no correct
// answers) and the question_id -> option_id answer key.
func buildExamCache(exam *model.Exam, questions []model.Question) (*model.ExamPayload, map[string]interface{}) {
	items := make([]model.QuestionForParticipant, len(questions))
	answerKey := make(map[string]interface{}, len(questions))
	for i, q := range questions {
		kind := q.MediaKind
		if kind == "" {
			kind = model.MediaNone
		}
		items[i] = model.QuestionForParticipant{
			ID:        q.ID,
			Prompt:    q.Prompt,
			MediaURL:  q.MediaURL,
			MediaKind: kind,
			Options:   q.Options,
			OrderNum:  q.OrderNum,
		}
		answerKey[q.ID.String()] = q.CorrectOption
	}

	return &model.ExamPayload{
		ExamID:    exam.ID,
		Title:     exam.Title,
		Duration:  exam.DurationMinutes,
		Questions: items,
	}, answerKey
}

// optionIndex maps question_id to its option IDs joined by optionSeparator.
func optionIndex(questions []model.Question) map[string]interface{} {
	index := make(map[string]interface{}, len(questions))
	for _, q := range questions {
		ids := make([]string, len(q.Options))
		for i, o := range q.Options {
			ids[i] = o.ID
		}
		index[q.ID.String()] = strings.Join(ids, optionSeparator)
	}
	return index
}

// PrewarmAllCaches loads all published exams into Redis on application startup.
func (s *ExamService) PrewarmAllCaches(ctx context.Context) error {
	exams, err := s.examRepo.ListPublished(ctx)
	if err != nil {
		return fmt.Errorf("list published exams: %w", err)
	}

	if len(exams) == 0 {
		s.log.Info().Msg("No published exams to prewarm")
		return nil
	}

	warmed := 0
	for i := range exams {
		if err := s.WarmExamCache(ctx, &exams[i]); err != nil {
			s.log.Warn().
				Err(err).
				Str("exam_id", exams[i].ID.String()).
				Msg("Failed to warm exam, skipping")
			continue
		}
		warmed++
	}

	s.log.Info().
		Int("warmed", warmed).
		Int("total", len(exams)).
		Msg("Prewarming complete")
	return nil
}

// GetExamPayload retrieves the cached participant payload, warming the cache
// from PostgreSQL on a miss.
func (s *ExamService) GetExamPayload(ctx context.Context, examID uuid.UUID) (*model.ExamPayload, error) {
	key := config.CacheKey.ExamPayloadKey(examID.String())
	data, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		if err := s.warmByID(ctx, examID); err != nil {
			return nil, err
		}
		data, err = s.rdb.Get(ctx, key).Bytes()
	}
	if err != nil {
		return nil, fmt.Errorf("get payload: %w", err)
	}

	var payload model.ExamPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return &payload, nil
}

// GetAnswerKey retrieves the answer key from Redis for in-memory grading,
// warming the cache from PostgreSQL on a miss.
func (s *ExamService) GetAnswerKey(ctx context.Context, examID uuid.UUID) (map[string]string, error) {
	key := config.CacheKey.ExamAnswerKey(examID.String())
	result, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("get answer key: %w", err)
	}
	if len(result) > 0 {
		return result, nil
	}

	if err := s.warmByID(ctx, examID); err != nil {
		return nil, err
	}
	result, err = s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("get answer key: %w", err)
	}
	if len(result) == 0 {
		return nil, errors.New("answer key not found in cache")
	}
	return result, nil
}

// ValidateSelection checks that questionID belongs to the exam and optionID
// is one of its options.
func (s *ExamService) ValidateSelection(ctx context.Context, examID uuid.UUID, questionID, optionID string) error {
	key := config.CacheKey.ExamOptionsKey(examID.String())
	raw, err := s.rdb.HGet(ctx, key, questionID).Result()
	if errors.Is(err, redis.Nil) {
		exists, existsErr := s.rdb.Exists(ctx, key).Result()
		if existsErr != nil {
			return fmt.Errorf("check options: %w", existsErr)
		}
		if exists > 0 {
			return ErrUnknownQuestion
		}
		if err := s.warmByID(ctx, examID); err != nil {
			return err
		}
		raw, err = s.rdb.HGet(ctx, key, questionID).Result()
		if errors.Is(err, redis.Nil) {
			return ErrUnknownQuestion
		}
	}
	if err != nil {
		return fmt.Errorf("get options: %w", err)
	}

	for _, id := range strings.Split(raw, optionSeparator) {
		if id == optionID {
			return nil
		}
	}
	return ErrUnknownOption
}

func (s *ExamService) warmByID(ctx context.Context, examID uuid.UUID) error {
	exam, err := s.GetByID(ctx, examID)
	if err != nil {
		return err
	}
	s.log.Info().Str("exam_id", examID.String()).Msg("Exam cache miss, warming")
	return s.WarmExamCache(ctx, exam)
}
