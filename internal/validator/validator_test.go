package validator

import (
	"errors"
	"testing"

	"github.com/gin-gonic/gin/binding"
)

type loginForm struct {
	NISN     string `json:"nisn" binding:"required,numeric"`
	Password string `json:"password" binding:"required"`
}

func TestTranslateErrorsUsesJSONNames(t *testing.T) {
	Setup()
	Setup()

	err := binding.Validator.ValidateStruct(&loginForm{NISN: "abc"})
	if err == nil {
		t.Fatal("expected validation error")
	}
	fields := TranslateErrors(err)
	if len(fields) != 2 {
		t.Fatalf("fields = %v, want nisn and password", fields)
	}
	if fields["nisn"] == "" || fields["password"] == "" {
		t.Errorf("fields = %v", fields)
	}
}

func TestTranslateErrorsFallsBackToDetail(t *testing.T) {
	Setup()
	fields := TranslateErrors(errors.New("unexpected EOF"))
	if fields["detail"] != "unexpected EOF" {
		t.Errorf("fields = %v", fields)
	}
}
