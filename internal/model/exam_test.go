package model

import (
	"testing"
	"time"
)

func TestExamDeadline(t *testing.T) {
	start := time.Date(2026, 10, 16, 8, 0, 0, 0, time.UTC)
	exam := &Exam{DurationMinutes: 90}

	if got := exam.Deadline(start); !got.Equal(start.Add(90 * time.Minute)) {
		t.Errorf("unbounded deadline = %v", got)
	}

	end := start.Add(30 * time.Minute)
	exam.ScheduledEnd = &end
	if got := exam.Deadline(start); !got.Equal(end) {
		t.Errorf("deadline = %v, want capped at scheduled end %v", got, end)
	}
}

func TestExamIsOpenAt(t *testing.T) {
	opens := time.Date(2026, 10, 16, 7, 0, 0, 0, time.UTC)
	closes := opens.Add(2 * time.Hour)
	exam := &Exam{Status: ExamStatusPublished, ScheduledStart: &opens, ScheduledEnd: &closes}

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"before start", opens.Add(-time.Second), false},
		{"at start", opens, true},
		{"inside", opens.Add(time.Hour), true},
		{"at end", closes, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exam.IsOpenAt(tt.at); got != tt.want {
				t.Errorf("IsOpenAt = %v, want %v", got, tt.want)
			}
		})
	}

	exam.Status = ExamStatusDraft
	if exam.IsOpenAt(opens.Add(time.Hour)) {
		t.Error("draft exam should never be open")
	}
}
