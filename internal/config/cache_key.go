package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// ParticipantWindowKey returns the hash holding a participant's started_at,
// end_at and attempt for an exam.
func (r *CacheKeyStruct) ParticipantWindowKey(examID string, participantID int) string {
	return fmt.Sprintf("participant:%d:exam:%s:window", participantID, examID)
}

// ParticipantAnswersKey returns the hash of question_id -> option_id autosaves.
func (r *CacheKeyStruct) ParticipantAnswersKey(examID string, participantID int) string {
	return fmt.Sprintf("participant:%d:exam:%s:answers", participantID, examID)
}

// ParticipantResultKey returns the key claimed by the first successful submit.
func (r *CacheKeyStruct) ParticipantResultKey(examID string, participantID int) string {
	return fmt.Sprintf("participant:%d:exam:%s:result", participantID, examID)
}

// ExamPayloadKey returns the cache key for an exam's participant-facing payload
func (r *CacheKeyStruct) ExamPayloadKey(examID string) string {
	return fmt.Sprintf("exam:%s:payload", examID)
}

// ExamAnswerKey returns the hash of question_id -> correct option_id
func (r *CacheKeyStruct) ExamAnswerKey(examID string) string {
	return fmt.Sprintf("exam:%s:key", examID)
}

// ExamOptionsKey returns the hash of question_id -> its option IDs
func (r *CacheKeyStruct) ExamOptionsKey(examID string) string {
	return fmt.Sprintf("exam:%s:options", examID)
}

var CacheKey = NewCacheKeyStruct()
