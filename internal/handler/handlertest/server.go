package handlertest

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/ujian/internal/config"
	"github.com/stemsi/ujian/internal/handler"
	"github.com/stemsi/ujian/internal/router"
	"github.com/stemsi/ujian/internal/service"
	"github.com/stemsi/ujian/internal/validator"
)

// Config returns a server configuration for tests.
func Config() *config.Config {
	return &config.Config{
		GinMode:         gin.TestMode,
		JWTSecret:       "handlertest-secret",
		JWTExpiry:       time.Hour,
		BcryptCost:      4,
		SubmitGrace:     30 * time.Second,
		LoginRateLimit:  100,
		StartRateLimit:  100,
		RateLimitWindow: time.Minute,
	}
}

// NewServer starts an httptest server running the real router over the
// given in-memory services. It is closed when the test ends.
func NewServer(t testing.TB, cfg *config.Config, sessions handler.SessionService, auth *Auth) *httptest.Server {
	t.Helper()
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	log := zerolog.Nop()

	engine := router.SetupRouter(ctx, auth.Tokens, &router.Handlers{
		Auth:        handler.NewAuthHandler(auth, log),
		Participant: handler.NewParticipantHandler(sessions, log),
		WS:          handler.NewWSHandler(sessions, log, nil),
	}, cfg)

	srv := httptest.NewServer(engine)
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return srv
}

// NewTokens returns an AuthService that only signs and validates tokens.
func NewTokens(cfg *config.Config) *service.AuthService {
	return service.NewAuthService(cfg, nil)
}
