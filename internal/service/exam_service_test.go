package service

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stemsi/ujian/internal/model"
)

func TestValidateQuestion(t *testing.T) {
	opts := []model.Option{{ID: "a", Text: "4"}, {ID: "b", Text: "5"}}

	tests := []struct {
		name    string
		q       model.Question
		wantErr error
	}{
		{"valid", model.Question{Options: opts, CorrectOption: "a"}, nil},
		{"correct option missing", model.Question{Options: opts, CorrectOption: "c"}, ErrInvalidAnswer},
		{"duplicate option", model.Question{Options: append(opts, model.Option{ID: "a"}), CorrectOption: "a"}, ErrInvalidOption},
		{"empty option id", model.Question{Options: []model.Option{{ID: ""}, {ID: "b"}}, CorrectOption: "b"}, ErrInvalidOption},
		{"separator in id", model.Question{Options: []model.Option{{ID: "a" + optionSeparator}, {ID: "b"}}, CorrectOption: "b"}, ErrInvalidOption},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := validateQuestion(&tt.q); !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestBuildExamCacheHidesAnswers(t *testing.T) {
	exam := &model.Exam{ID: uuid.New(), Title: "Matematika", DurationMinutes: 60}
	q1, q2 := uuid.New(), uuid.New()
	questions := []model.Question{
		{ID: q1, Prompt: "2 + 2", Options: []model.Option{{ID: "a"}, {ID: "b"}}, CorrectOption: "a", OrderNum: 1},
		{ID: q2, Prompt: "Peta", MediaURL: "/m/peta.png", MediaKind: model.MediaImage,
			Options: []model.Option{{ID: "x"}, {ID: "y"}}, CorrectOption: "y", OrderNum: 2},
	}

	payload, answerKey := buildExamCache(exam, questions)

	if len(payload.Questions) != 2 || payload.Questions[0].ID != q1 || payload.Questions[1].ID != q2 {
		t.Fatalf("payload order not preserved: %+v", payload.Questions)
	}
	if payload.Questions[0].MediaKind != model.MediaNone {
		t.Errorf("missing media kind = %q, want none", payload.Questions[0].MediaKind)
	}
	if answerKey[q2.String()] != "y" {
		t.Errorf("answer key for q2 = %v, want y", answerKey[q2.String()])
	}

	index := optionIndex(questions)
	if got := strings.Split(index[q2.String()].(string), optionSeparator); len(got) != 2 || got[1] != "y" {
		t.Errorf("option index for q2 = %v", got)
	}
}
