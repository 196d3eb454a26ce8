package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/ujian/internal/metrics"
	"github.com/stemsi/ujian/internal/middleware"
	"github.com/stemsi/ujian/internal/model"
	"github.com/stemsi/ujian/internal/response"
	"github.com/stemsi/ujian/internal/validator"
)

// ParticipantHandler handles the exam-taking endpoints.
type ParticipantHandler struct {
	sessions SessionService
	log      zerolog.Logger
}

// NewParticipantHandler creates a new ParticipantHandler.
func NewParticipantHandler(sessions SessionService, log zerolog.Logger) *ParticipantHandler {
	return &ParticipantHandler{
		sessions: sessions,
		log:      log.With().Str("component", "participant_handler").Logger(),
	}
}

// GetExam godoc
// GET /api/v1/participant/exams/:exam_id
// Returns the exam summary shown before the access code is entered.
func (h *ParticipantHandler) GetExam(c *gin.Context) {
	examID, ok := examParam(c)
	if !ok {
		return
	}

	summary, err := h.sessions.GetExamSummary(c.Request.Context(), examID)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, summary)
}

// StartExam godoc
// POST /api/v1/participant/exams/:exam_id/start
// Verifies the access code and starts or resumes the attempt.
func (h *ParticipantHandler) StartExam(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	examID, ok := examParam(c)
	if !ok {
		return
	}

	var req model.StartExamRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	window, err := h.sessions.Start(c.Request.Context(), examID, claims.UserID, req.AccessCode)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, window)
}

// GetQuestions godoc
// GET /api/v1/participant/exams/:exam_id/questions
// Returns the ordered questions and the answers saved so far.
func (h *ParticipantHandler) GetQuestions(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	examID, ok := examParam(c)
	if !ok {
		return
	}

	questions, err := h.sessions.GetQuestions(c.Request.Context(), examID, claims.UserID)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, questions)
}

// SaveAnswer godoc
// PUT /api/v1/participant/exams/:exam_id/answers
// Saves one selection. The client treats failures as best effort.
func (h *ParticipantHandler) SaveAnswer(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	examID, ok := examParam(c)
	if !ok {
		return
	}

	var req model.SaveAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.sessions.SaveAnswer(c.Request.Context(), examID, claims.UserID, uuid.MustParse(req.QuestionID), req.OptionID); err != nil {
		h.fail(c, err)
		return
	}

	metrics.AnswersSaved.WithLabelValues("rest").Inc()
	response.Success(c, http.StatusOK, gin.H{"status": "saved"})
}

// SubmitExam godoc
// POST /api/v1/participant/exams/:exam_id/submit
// Grades the attempt. Repeated submissions return the stored result.
func (h *ParticipantHandler) SubmitExam(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	examID, ok := examParam(c)
	if !ok {
		return
	}

	var req model.SubmitExamRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	result, err := h.sessions.Submit(c.Request.Context(), examID, claims.UserID, req.Answers, req.Auto)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

func (h *ParticipantHandler) fail(c *gin.Context, err error) {
	status, code := sessionError(err)
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).
			Str("path", c.FullPath()).
			Str("exam_id", c.Param("exam_id")).
			Msg("Request failed")
	}
	response.Fail(c, status, code)
}

func examParam(c *gin.Context) (uuid.UUID, bool) {
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return examID, true
}
