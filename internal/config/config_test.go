package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"SUBMIT_GRACE", "UJIAN_API_URL", "UJIAN_AUTOSAVE_RETRIES", "ALLOWED_ORIGINS"} {
		t.Setenv(key, "")
	}

	cfg := Load()

	if cfg.SubmitGrace != 30*time.Second {
		t.Errorf("SubmitGrace = %v, want 30s", cfg.SubmitGrace)
	}
	if cfg.Client.APIBaseURL != "http://localhost:8080" {
		t.Errorf("APIBaseURL = %q", cfg.Client.APIBaseURL)
	}
	if cfg.Client.AutosaveRetries != 2 {
		t.Errorf("AutosaveRetries = %d, want 2", cfg.Client.AutosaveRetries)
	}
	if cfg.AllowedOrigins != nil {
		t.Errorf("AllowedOrigins = %v, want nil", cfg.AllowedOrigins)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SUBMIT_GRACE", "2m")
	t.Setenv("UJIAN_API_URL", "https://ujian.sekolah.id/")
	t.Setenv("UJIAN_AUTOSAVE_RETRIES", "5")
	t.Setenv("ALLOWED_ORIGINS", "https://a.id, ,https://b.id")

	cfg := Load()

	if cfg.SubmitGrace != 2*time.Minute {
		t.Errorf("SubmitGrace = %v, want 2m", cfg.SubmitGrace)
	}
	if cfg.Client.APIBaseURL != "https://ujian.sekolah.id" {
		t.Errorf("APIBaseURL = %q, want trailing slash trimmed", cfg.Client.APIBaseURL)
	}
	if cfg.Client.AutosaveRetries != 5 {
		t.Errorf("AutosaveRetries = %d, want 5", cfg.Client.AutosaveRetries)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.id" {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("SUBMIT_GRACE", "soon")
	t.Setenv("UJIAN_AUTOSAVE_RETRIES", "many")

	cfg := Load()

	if cfg.SubmitGrace != 30*time.Second {
		t.Errorf("SubmitGrace = %v, want fallback 30s", cfg.SubmitGrace)
	}
	if cfg.Client.AutosaveRetries != 2 {
		t.Errorf("AutosaveRetries = %d, want fallback 2", cfg.Client.AutosaveRetries)
	}
}

func TestCacheKeys(t *testing.T) {
	const exam = "0b7c1f7e-4b0a-4c43-9d8e-5a3c2b1d0e9f"
	if got := CacheKey.ParticipantWindowKey(exam, 42); got != "participant:42:exam:"+exam+":window" {
		t.Errorf("ParticipantWindowKey = %q", got)
	}
	if got := CacheKey.ExamAnswerKey(exam); got != "exam:"+exam+":key" {
		t.Errorf("ExamAnswerKey = %q", got)
	}
}
