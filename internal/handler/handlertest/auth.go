package handlertest

import (
	"context"

	"github.com/stemsi/ujian/internal/model"
	"github.com/stemsi/ujian/internal/service"
)

// Participant is a login known to Auth.
type Participant struct {
	ID       int
	NISN     string
	Name     string
	Password string
}

// Auth is an in-memory handler.Authenticator that issues real tokens.
type Auth struct {
	Tokens       *service.AuthService
	participants map[string]Participant
}

// NewAuth creates an Auth that signs tokens with tokens.
func NewAuth(tokens *service.AuthService, participants ...Participant) *Auth {
	a := &Auth{Tokens: tokens, participants: make(map[string]Participant)}
	for _, p := range participants {
		a.participants[p.NISN] = p
	}
	return a
}

func (a *Auth) Login(_ context.Context, nisn, password string) (*model.LoginResponse, error) {
	p, ok := a.participants[nisn]
	if !ok || p.Password != password {
		return nil, service.ErrInvalidCredentials
	}
	token, expiresAt, err := a.Tokens.GenerateParticipantToken(p.ID)
	if err != nil {
		return nil, err
	}
	return &model.LoginResponse{
		Token:       token,
		ExpiresAt:   expiresAt,
		Participant: &model.Participant{ID: p.ID, NISN: p.NISN, Name: p.Name},
	}, nil
}
