package service

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/ujian/internal/config"
	"github.com/stemsi/ujian/internal/metrics"
	"github.com/stemsi/ujian/internal/model"
	"github.com/stemsi/ujian/internal/repository"
)

// Exam session errors.
var (
	ErrExamNotActive     = errors.New("exam is not active")
	ErrInvalidAccessCode = errors.New("invalid access code")
	ErrAlreadyCompleted  = errors.New("exam session is already completed")
	ErrSessionNotFound   = errors.New("exam session not found")
	ErrSessionExpired    = errors.New("exam session has expired")
	ErrUnknownQuestion   = errors.New("question does not belong to this exam")
	ErrUnknownOption     = errors.New("option does not belong to this question")
)

// resultTTL keeps a claimed result readable until the scoring worker has
// long since written it to PostgreSQL.
const resultTTL = 24 * time.Hour

// ExamSessionService handles the lifecycle of a participant's attempt.
type ExamSessionService struct {
	sessionRepo AttemptStore
	answerRepo  AnswerStore
	examService *ExamService
	rdb         *redis.Client
	grace       time.Duration
	now         func() time.Time
	log         zerolog.Logger
}

// NewExamSessionService creates a new ExamSessionService.
func NewExamSessionService(
	sessionRepo AttemptStore,
	answerRepo AnswerStore,
	examService *ExamService,
	rdb *redis.Client,
	cfg *config.Config,
	log zerolog.Logger,
) *ExamSessionService {
	return &ExamSessionService{
		sessionRepo: sessionRepo,
		answerRepo:  answerRepo,
		examService: examService,
		rdb:         rdb,
		grace:       cfg.SubmitGrace,
		now:         time.Now,
		log:         log.With().Str("component", "exam_session_service").Logger(),
	}
}

// GetExamSummary returns the pre-start view of a published exam.
func (s *ExamSessionService) GetExamSummary(ctx context.Context, examID uuid.UUID) (*model.ExamSummary, error) {
	return s.examService.GetSummary(ctx, examID)
}

// Start verifies the access code and returns the attempt's window. An
// IN_PROGRESS session is returned unchanged, so repeated calls resume.
func (s *ExamSessionService) Start(ctx context.Context, examID uuid.UUID, participantID int, accessCode string) (*model.SessionWindow, error) {
	exam, err := s.examService.GetByID(ctx, examID)
	if err != nil {
		return nil, err
	}
	if exam.Status != model.ExamStatusPublished {
		return nil, ErrExamNotActive
	}
	if subtle.ConstantTimeCompare([]byte(exam.AccessCode), []byte(accessCode)) != 1 {
		return nil, ErrInvalidAccessCode
	}

	existing, err := s.sessionRepo.GetByExamAndParticipant(ctx, examID, participantID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("check existing session: %w", err)
	}
	if existing != nil {
		if err := s.settlePendingResult(ctx, existing); err != nil {
			return nil, err
		}
	}

	now := s.now().Truncate(time.Second)
	action, err := decideStart(exam, existing, now)
	if err != nil {
		return nil, err
	}

	var sess *model.ExamSession
	switch action {
	case startResume:
		sess = existing

	case startCreate:
		sess = &model.ExamSession{
			ExamID:        examID,
			ParticipantID: participantID,
			StartedAt:     now,
			EndAt:         exam.Deadline(now),
			Status:        model.SessionStatusInProgress,
		}
		if err := s.sessionRepo.Create(ctx, sess); err != nil {
			if !errors.Is(err, pgx.ErrNoRows) {
				return nil, fmt.Errorf("create session: %w", err)
			}
			// Concurrent start won the insert.
			sess, err = s.sessionRepo.GetByExamAndParticipant(ctx, examID, participantID)
			if err != nil {
				return nil, fmt.Errorf("concurrent start detected, but fetch failed: %w", err)
			}
			action = startResume
		}

	case startRetry:
		s.clearAttemptCache(ctx, examID, participantID)
		sess = existing
		sess.StartedAt = now
		sess.EndAt = exam.Deadline(now)
		if err := s.sessionRepo.Reopen(ctx, sess); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, ErrAlreadyCompleted
			}
			return nil, fmt.Errorf("reopen session: %w", err)
		}
	}

	s.cacheWindow(ctx, sess)
	metrics.SessionsStarted.WithLabelValues(action.String()).Inc()

	s.log.Info().
		Str("exam_id", examID.String()).
		Int("participant_id", participantID).
		Int("attempt", sess.Attempt).
		Str("kind", action.String()).
		Msg("Exam session started")

	return &model.SessionWindow{StartedAt: sess.StartedAt, EndAt: sess.EndAt, Attempt: sess.Attempt}, nil
}

type startAction int

const (
	startCreate startAction = iota
	startResume
	startRetry
)

func (a startAction) String() string {
	switch a {
	case startResume:
		return "resumed"
	case startRetry:
		return "retry"
	default:
		return "new"
	}
}

// decideStart picks what Start does for an exam that is published and whose
// access code already matched. existing is nil when the participant has no
// session row yet.
func decideStart(exam *model.Exam, existing *model.ExamSession, now time.Time) (startAction, error) {
	if existing == nil {
		if !exam.IsOpenAt(now) {
			return 0, ErrExamNotActive
		}
		return startCreate, nil
	}

	if existing.Status == model.SessionStatusInProgress {
		return startResume, nil
	}

	if !existing.RetryAllowed {
		return 0, ErrAlreadyCompleted
	}
	if !exam.IsOpenAt(now) {
		return 0, ErrExamNotActive
	}
	return startRetry, nil
}

// GetQuestions returns the ordered question set and the selections saved so far.
func (s *ExamSessionService) GetQuestions(ctx context.Context, examID uuid.UUID, participantID int) (*model.ExamQuestions, error) {
	sess, err := s.getSession(ctx, examID, participantID)
	if err != nil {
		return nil, err
	}
	if sess.Status == model.SessionStatusCompleted {
		return nil, ErrAlreadyCompleted
	}
	if claimed, err := s.resultClaimed(ctx, examID, participantID); err != nil {
		return nil, err
	} else if claimed {
		return nil, ErrAlreadyCompleted
	}
	if !s.now().Before(sess.EndAt) {
		return nil, ErrSessionExpired
	}

	payload, err := s.examService.GetExamPayload(ctx, examID)
	if err != nil {
		return nil, err
	}

	answers, err := s.savedAnswers(ctx, examID, participantID)
	if err != nil {
		return nil, err
	}

	return &model.ExamQuestions{
		ExamID:    examID,
		Title:     payload.Title,
		EndAt:     sess.EndAt,
		Questions: payload.Questions,
		Answers:   answers,
	}, nil
}

// SaveAnswer stores one selection in Redis and queues it for PostgreSQL.
func (s *ExamSessionService) SaveAnswer(ctx context.Context, examID uuid.UUID, participantID int, questionID uuid.UUID, optionID string) error {
	w, err := s.activeWindow(ctx, examID, participantID)
	if err != nil {
		return err
	}
	if !s.now().Before(w.EndAt) {
		return ErrSessionExpired
	}
	if claimed, err := s.resultClaimed(ctx, examID, participantID); err != nil {
		return err
	} else if claimed {
		return ErrAlreadyCompleted
	}

	if err := s.examService.ValidateSelection(ctx, examID, questionID.String(), optionID); err != nil {
		return err
	}

	task, err := json.Marshal(model.AnswerTask{
		ParticipantID: participantID,
		ExamID:        examID.String(),
		QuestionID:    questionID.String(),
		OptionID:      optionID,
		Attempt:       w.Attempt,
	})
	if err != nil {
		return fmt.Errorf("marshal answer task: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, config.CacheKey.ParticipantAnswersKey(examID.String(), participantID), questionID.String(), optionID)
	pipe.RPush(ctx, config.WorkerKey.PersistAnswersQueue, task)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save answer: %w", err)
	}
	return nil
}

// Submit grades the attempt exactly once. Later and concurrent calls get the
// stored result.
func (s *ExamSessionService) Submit(ctx context.Context, examID uuid.UUID, participantID int, answers map[string]string, auto bool) (*model.SubmitResult, error) {
	sess, err := s.getSession(ctx, examID, participantID)
	if err != nil {
		return nil, err
	}
	if sess.Status == model.SessionStatusCompleted {
		return completedResult(sess), nil
	}
	if task, err := s.cachedResult(ctx, examID, participantID); err != nil {
		return nil, err
	} else if task != nil && task.Attempt == sess.Attempt {
		return submitResult(task), nil
	}

	exam, err := s.examService.GetByID(ctx, examID)
	if err != nil {
		return nil, err
	}
	answerKey, err := s.examService.GetAnswerKey(ctx, examID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	source := "payload"
	if !payloadTrusted(sess, s.grace, now) {
		source = "autosave"
		answers, err = s.savedAnswers(ctx, examID, participantID)
		if err != nil {
			return nil, err
		}
		s.log.Warn().
			Str("exam_id", examID.String()).
			Int("participant_id", participantID).
			Time("end_at", sess.EndAt).
			Msg("Late submission, grading autosaved answers")
	}

	score := Grade(answerKey, answers)
	task := model.ScoreTask{
		ParticipantID: participantID,
		ExamID:        examID,
		Attempt:       sess.Attempt,
		Score:         score,
		RetryAllowed:  RetryAllowed(exam, score),
		FinishedAt:    now,
	}
	raw, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("marshal score task: %w", err)
	}

	resultKey := config.CacheKey.ParticipantResultKey(examID.String(), participantID)
	claimed, err := s.rdb.SetNX(ctx, resultKey, raw, resultTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("claim result: %w", err)
	}
	if !claimed {
		existing, err := s.cachedResult(ctx, examID, participantID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return submitResult(existing), nil
		}
		return nil, errors.New("result claimed but not readable")
	}

	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, config.WorkerKey.PersistScoresQueue, raw)
	pipe.Del(ctx, config.CacheKey.ParticipantWindowKey(examID.String(), participantID))
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Failed to queue score, persisting synchronously")
		if _, err := s.sessionRepo.Complete(ctx, scoreUpdate(&task)); err != nil {
			return nil, fmt.Errorf("persist score: %w", err)
		}
	}

	trigger := "manual"
	if auto {
		trigger = "auto"
	}
	metrics.Submissions.WithLabelValues(trigger, source).Inc()
	metrics.Scores.Observe(score)

	s.log.Info().
		Str("exam_id", examID.String()).
		Int("participant_id", participantID).
		Int("attempt", sess.Attempt).
		Float64("score", score).
		Bool("auto", auto).
		Msg("Exam submitted")

	return submitResult(&task), nil
}

// payloadTrusted reports whether a submission payload is graded as sent.
// After end_at + grace only the autosaved answers count.
func payloadTrusted(sess *model.ExamSession, grace time.Duration, now time.Time) bool {
	return !now.After(sess.EndAt.Add(grace))
}

// ────────────────────────────────────────────────────────────────────────────
// Internal helpers
// ────────────────────────────────────────────────────────────────────────────

func (s *ExamSessionService) getSession(ctx context.Context, examID uuid.UUID, participantID int) (*model.ExamSession, error) {
	sess, err := s.sessionRepo.GetByExamAndParticipant(ctx, examID, participantID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// settlePendingResult writes a claimed-but-unflushed result to the session
// row so Start sees the attempt as completed.
func (s *ExamSessionService) settlePendingResult(ctx context.Context, sess *model.ExamSession) error {
	if sess.Status != model.SessionStatusInProgress {
		return nil
	}
	task, err := s.cachedResult(ctx, sess.ExamID, sess.ParticipantID)
	if err != nil || task == nil || task.Attempt != sess.Attempt {
		return err
	}

	if _, err := s.sessionRepo.Complete(ctx, scoreUpdate(task)); err != nil {
		return fmt.Errorf("settle pending result: %w", err)
	}
	sess.Status = model.SessionStatusCompleted
	sess.FinalScore = &task.Score
	sess.RetryAllowed = task.RetryAllowed
	sess.FinishedAt = &task.FinishedAt
	return nil
}

type attemptWindow struct {
	StartedAt time.Time
	EndAt     time.Time
	Attempt   int
}

// activeWindow reads the attempt window from Redis, falling back to
// PostgreSQL and re-caching on a miss.
func (s *ExamSessionService) activeWindow(ctx context.Context, examID uuid.UUID, participantID int) (*attemptWindow, error) {
	key := config.CacheKey.ParticipantWindowKey(examID.String(), participantID)
	vals, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("get window: %w", err)
	}

	if w, ok := parseWindow(vals); ok {
		return w, nil
	}

	sess, err := s.getSession(ctx, examID, participantID)
	if err != nil {
		return nil, err
	}
	if sess.Status == model.SessionStatusCompleted {
		return nil, ErrAlreadyCompleted
	}
	s.cacheWindow(ctx, sess)
	return &attemptWindow{StartedAt: sess.StartedAt, EndAt: sess.EndAt, Attempt: sess.Attempt}, nil
}

func parseWindow(vals map[string]string) (*attemptWindow, bool) {
	started, err1 := strconv.ParseInt(vals["started_at"], 10, 64)
	end, err2 := strconv.ParseInt(vals["end_at"], 10, 64)
	attempt, err3 := strconv.Atoi(vals["attempt"])
	if err1 != nil || err2 != nil || err3 != nil {
		return nil, false
	}
	return &attemptWindow{
		StartedAt: time.Unix(started, 0),
		EndAt:     time.Unix(end, 0),
		Attempt:   attempt,
	}, true
}

// cacheWindow is best effort; activeWindow falls back to PostgreSQL.
func (s *ExamSessionService) cacheWindow(ctx context.Context, sess *model.ExamSession) {
	key := config.CacheKey.ParticipantWindowKey(sess.ExamID.String(), sess.ParticipantID)
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key,
		"started_at", sess.StartedAt.Unix(),
		"end_at", sess.EndAt.Unix(),
		"attempt", sess.Attempt,
	)
	pipe.ExpireAt(ctx, key, sess.EndAt.Add(s.grace+time.Hour))
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Warn().Err(err).
			Str("exam_id", sess.ExamID.String()).
			Int("participant_id", sess.ParticipantID).
			Msg("Failed to cache session window")
	}
}

func (s *ExamSessionService) clearAttemptCache(ctx context.Context, examID uuid.UUID, participantID int) {
	exam := examID.String()
	err := s.rdb.Del(ctx,
		config.CacheKey.ParticipantWindowKey(exam, participantID),
		config.CacheKey.ParticipantAnswersKey(exam, participantID),
		config.CacheKey.ParticipantResultKey(exam, participantID),
	).Err()
	if err != nil {
		s.log.Warn().Err(err).Str("exam_id", exam).Int("participant_id", participantID).
			Msg("Failed to clear previous attempt cache")
	}
}

func (s *ExamSessionService) resultClaimed(ctx context.Context, examID uuid.UUID, participantID int) (bool, error) {
	n, err := s.rdb.Exists(ctx, config.CacheKey.ParticipantResultKey(examID.String(), participantID)).Result()
	if err != nil {
		return false, fmt.Errorf("check result: %w", err)
	}
	return n > 0, nil
}

func (s *ExamSessionService) cachedResult(ctx context.Context, examID uuid.UUID, participantID int) (*model.ScoreTask, error) {
	raw, err := s.rdb.Get(ctx, config.CacheKey.ParticipantResultKey(examID.String(), participantID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get result: %w", err)
	}

	var task model.ScoreTask
	if err := json.Unmarshal(raw, &task); err != nil {
		return nil, fmt.Errorf("unmarshal result: %w", err)
	}
	return &task, nil
}

// savedAnswers reads the Redis answers hash, falling back to the durable
// copy when the hash is empty.
func (s *ExamSessionService) savedAnswers(ctx context.Context, examID uuid.UUID, participantID int) (map[string]string, error) {
	answers, err := s.rdb.HGetAll(ctx, config.CacheKey.ParticipantAnswersKey(examID.String(), participantID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get saved answers: %w", err)
	}
	if len(answers) > 0 {
		return answers, nil
	}

	answers, err = s.answerRepo.ListByParticipant(ctx, examID, participantID)
	if err != nil {
		return nil, fmt.Errorf("list saved answers: %w", err)
	}
	return answers, nil
}

func completedResult(sess *model.ExamSession) *model.SubmitResult {
	res := &model.SubmitResult{RetryAllowed: sess.RetryAllowed, Attempt: sess.Attempt}
	if sess.FinalScore != nil {
		res.Score = *sess.FinalScore
	}
	return res
}

func submitResult(task *model.ScoreTask) *model.SubmitResult {
	return &model.SubmitResult{Score: task.Score, RetryAllowed: task.RetryAllowed, Attempt: task.Attempt}
}

func scoreUpdate(task *model.ScoreTask) repository.ScoreUpdate {
	return repository.ScoreUpdate{
		SessionKey:   repository.SessionKey{ExamID: task.ExamID, ParticipantID: task.ParticipantID},
		Attempt:      task.Attempt,
		Score:        task.Score,
		RetryAllowed: task.RetryAllowed,
		FinishedAt:   task.FinishedAt,
	}
}
