package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"collab-app/internal/auth"
	"collab-app/internal/config"
	"collab-app/internal/models"
)

type stubUserRepo struct {
	byID    map[string]*models.User
	byEmail map[string]*models.User
	fail    bool
}

func newStubUserRepo() *stubUserRepo {
	return &stubUserRepo{
		byID:    make(map[string]*models.User),
		byEmail: make(map[string]*models.User),
	}
}

func (s *stubUserRepo) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	u, ok := s.byEmail[email]
	if !ok {
		return nil, errors.New("no rows")
	}
	copy := *u
	return &copy, nil
}

func (s *stubUserRepo) GetUserByID(_ context.Context, id string) (*models.User, error) {
	u, ok := s.byID[id]
	if !ok {
		return nil, errors.New("no rows")
	}
	copy := *u
	return &copy, nil
}

func (s *stubUserRepo) CreateUser(_ context.Context, req *models.RegisterRequest) (*models.User, error) {
	if s.fail {
		return nil, errors.New("connection refused")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.MinCost)
	if err != nil {
		return nil, err
	}
	u := &models.User{
		ID:           "user-" + req.Username,
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: string(hash),
		CreatedAt:    time.Now(),
	}
	s.byID[u.ID] = u
	s.byEmail[u.Email] = u
	return u, nil
}

func newAuthHandlers(repo *stubUserRepo) *AuthHandlers {
	cfg := &config.Config{
		JWT: config.JWTConfig{Secret: []byte("test-secret"), ExpiresIn: time.Hour},
	}
	return NewAuthHandlers(auth.NewService(repo, cfg))
}

func post(handler http.HandlerFunc, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestRegisterStatusCodes(t *testing.T) {
	repo := newStubUserRepo()
	h := newAuthHandlers(repo)

	rec := post(h.Register, `{"username":"alice","email":"alice@example.com","password":"correct-horse"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"token"`)

	// Rejected payloads are the client's fault.
	rec = post(h.Register, `{"username":"alice","email":"nope","password":"correct-horse"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = post(h.Register, `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Storage failures are not.
	repo.fail = true
	rec = post(h.Register, `{"username":"bob","email":"bob@example.com","password":"correct-horse"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestLoginStatusCodes(t *testing.T) {
	repo := newStubUserRepo()
	h := newAuthHandlers(repo)

	rec := post(h.Register, `{"username":"alice","email":"alice@example.com","password":"correct-horse"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = post(h.Login, `{"email":"alice@example.com","password":"correct-horse"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"token"`)

	rec = post(h.Login, `{"email":"alice@example.com","password":"wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = post(h.Login, `{"email":"nobody@example.com","password":"correct-horse"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = post(h.Login, `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
