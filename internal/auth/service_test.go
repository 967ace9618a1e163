package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"collab-app/internal/config"
	"collab-app/internal/models"
)

type fakeUserRepo struct {
	byID    map[string]*models.User
	byEmail map[string]*models.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{
		byID:    make(map[string]*models.User),
		byEmail: make(map[string]*models.User),
	}
}

func (f *fakeUserRepo) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	u, ok := f.byEmail[email]
	if !ok {
		return nil, errors.New("no rows")
	}
	copy := *u
	return &copy, nil
}

func (f *fakeUserRepo) GetUserByID(_ context.Context, id string) (*models.User, error) {
	u, ok := f.byID[id]
	if !ok {
		return nil, errors.New("no rows")
	}
	copy := *u
	copy.PasswordHash = ""
	return &copy, nil
}

func (f *fakeUserRepo) CreateUser(_ context.Context, req *models.RegisterRequest) (*models.User, error) {
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
	f.byID[u.ID] = u
	f.byEmail[u.Email] = u
	return u, nil
}

func testConfig() *config.Config {
	return &config.Config{
		JWT: config.JWTConfig{
			Secret:    []byte("test-secret"),
			ExpiresIn: time.Hour,
		},
	}
}

func TestRegisterAndLogin(t *testing.T) {
	svc := NewService(newFakeUserRepo(), testConfig())
	ctx := context.Background()

	resp, err := svc.Register(ctx, &models.RegisterRequest{
		Username: "alice",
		Email:    "alice@example.com",
		Password: "correct-horse",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, "alice", resp.User.Username)

	login, err := svc.Login(ctx, &models.LoginRequest{
		Email:    "alice@example.com",
		Password: "correct-horse",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, login.Token)
	assert.Empty(t, login.User.PasswordHash)
}

func TestLoginWrongPassword(t *testing.T) {
	svc := NewService(newFakeUserRepo(), testConfig())
	ctx := context.Background()

	_, err := svc.Register(ctx, &models.RegisterRequest{
		Username: "alice",
		Email:    "alice@example.com",
		Password: "correct-horse",
	})
	require.NoError(t, err)

	_, err = svc.Login(ctx, &models.LoginRequest{
		Email:    "alice@example.com",
		Password: "wrong",
	})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(ctx, &models.LoginRequest{
		Email:    "nobody@example.com",
		Password: "correct-horse",
	})
	assert.ErrorIs(t, err, ErrInvalidCredentials, "unknown email is indistinguishable from wrong password")
}

func TestRegisterValidation(t *testing.T) {
	svc := NewService(newFakeUserRepo(), testConfig())
	ctx := context.Background()

	cases := []struct {
		name string
		req  models.RegisterRequest
	}{
		{"missing fields", models.RegisterRequest{}},
		{"bad email", models.RegisterRequest{Username: "alice", Email: "nope", Password: "longenough"}},
		{"short password", models.RegisterRequest{Username: "alice", Email: "a@b.co", Password: "short"}},
		{"short username", models.RegisterRequest{Username: "al", Email: "a@b.co", Password: "longenough"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Register(ctx, &tc.req)
			var validation *ValidationError
			assert.ErrorAs(t, err, &validation)
		})
	}
}

func TestGetUserFromToken(t *testing.T) {
	svc := NewService(newFakeUserRepo(), testConfig())
	ctx := context.Background()

	resp, err := svc.Register(ctx, &models.RegisterRequest{
		Username: "alice",
		Email:    "alice@example.com",
		Password: "correct-horse",
	})
	require.NoError(t, err)

	user, err := svc.GetUserFromToken(ctx, resp.Token)
	require.NoError(t, err)
	assert.Equal(t, resp.User.ID, user.ID)
}

func TestGetUserFromTokenRejectsGarbage(t *testing.T) {
	svc := NewService(newFakeUserRepo(), testConfig())

	_, err := svc.GetUserFromToken(context.Background(), "not-a-token")
	assert.Error(t, err)
}

func TestTokenSignedWithOtherSecretRejected(t *testing.T) {
	repo := newFakeUserRepo()
	svc := NewService(repo, testConfig())
	other := NewService(repo, &config.Config{JWT: config.JWTConfig{Secret: []byte("other"), ExpiresIn: time.Hour}})
	ctx := context.Background()

	resp, err := other.Register(ctx, &models.RegisterRequest{
		Username: "alice",
		Email:    "alice@example.com",
		Password: "correct-horse",
	})
	require.NoError(t, err)

	_, err = svc.GetUserFromToken(ctx, resp.Token)
	assert.Error(t, err)
}
