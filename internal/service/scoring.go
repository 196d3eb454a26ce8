package service

import (
	"math"

	"github.com/stemsi/ujian/internal/model"
)

// Grade scores answers against the answer key as correct/total*100, rounded
// to two decimals. Answers to questions outside the key are ignored.
func Grade(answerKey, answers map[string]string) float64 {
	if len(answerKey) == 0 {
		return 0
	}

	correct := 0
	for qid, want := range answerKey {
		if got, ok := answers[qid]; ok && got == want {
			correct++
		}
	}

	score := float64(correct) / float64(len(answerKey)) * 100
	return math.Round(score*100) / 100
}

// RetryAllowed reports whether a participant who scored score may take the
// exam again.
func RetryAllowed(exam *model.Exam, score float64) bool {
	return exam.AllowRetry && score < exam.PassingScore
}
