package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trailhead-tours/apiserver/internal/events"
	"github.com/trailhead-tours/apiserver/internal/mail"
	"github.com/trailhead-tours/apiserver/internal/middleware"
	"github.com/trailhead-tours/apiserver/internal/services"
	"github.com/trailhead-tours/apiserver/internal/store"
	"github.com/trailhead-tours/apiserver/internal/token"
	"github.com/trailhead-tours/apiserver/types"
	"go.uber.org/zap"
)

// fakeUserRepo is an in-memory services.UserRepository. Reads filter
// deactivated users, mirroring the SQL repository.
type fakeUserRepo struct {
	mu     sync.Mutex
	nextID int
	users  map[int]*types.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{nextID: 1, users: map[int]*types.User{}}
}

func (r *fakeUserRepo) GetByID(ctx context.Context, id int) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok || !user.Active {
		return types.User{}, store.ErrNotFound
	}
	return *user, nil
}

func (r *fakeUserRepo) GetByEmail(ctx context.Context, email string) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.Email == email && user.Active {
			return *user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (r *fakeUserRepo) GetByResetToken(ctx context.Context, tokenHash string) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if !user.Active || user.PasswordResetToken == nil || user.PasswordResetExpires == nil {
			continue
		}
		if *user.PasswordResetToken == tokenHash && user.PasswordResetExpires.After(time.Now()) {
			return *user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (r *fakeUserRepo) Create(ctx context.Context, user types.User) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if existing.Email == user.Email {
			return types.User{}, store.ErrDuplicateEmail
		}
	}
	user.ID = r.nextID
	r.nextID++
	user.Active = true
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	r.users[user.ID] = &user
	return user, nil
}

func (r *fakeUserRepo) UpdateProfile(ctx context.Context, id int, name, email string) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok || !user.Active {
		return types.User{}, store.ErrNotFound
	}
	for otherID, other := range r.users {
		if otherID != id && other.Email == email {
			return types.User{}, store.ErrDuplicateEmail
		}
	}
	user.Name = name
	user.Email = email
	return *user, nil
}

func (r *fakeUserRepo) UpdatePassword(ctx context.Context, id int, passwordHash string, changedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok || !user.Active {
		return store.ErrNotFound
	}
	user.PasswordHash = passwordHash
	user.PasswordChangedAt = &changedAt
	user.PasswordResetToken = nil
	user.PasswordResetExpires = nil
	return nil
}

func (r *fakeUserRepo) SetPasswordReset(ctx context.Context, id int, tokenHash string, expires time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok || !user.Active {
		return store.ErrNotFound
	}
	user.PasswordResetToken = &tokenHash
	user.PasswordResetExpires = &expires
	return nil
}

func (r *fakeUserRepo) ClearPasswordReset(ctx context.Context, id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return store.ErrNotFound
	}
	user.PasswordResetToken = nil
	user.PasswordResetExpires = nil
	return nil
}

func (r *fakeUserRepo) SetPhoto(ctx context.Context, id int, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok || !user.Active {
		return store.ErrNotFound
	}
	user.Photo = key
	return nil
}

func (r *fakeUserRepo) Deactivate(ctx context.Context, id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok || !user.Active {
		return store.ErrNotFound
	}
	user.Active = false
	return nil
}

func (r *fakeUserRepo) List(ctx context.Context, offset, limit int) ([]types.User, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	users := []types.User{}
	for id := 1; id < r.nextID; id++ {
		if user, ok := r.users[id]; ok && user.Active {
			users = append(users, *user)
		}
	}
	total := len(users)
	if offset > len(users) {
		offset = len(users)
	}
	users = users[offset:]
	if limit < len(users) {
		users = users[:limit]
	}
	return users, total, nil
}

// mutate edits a stored user in place.
func (r *fakeUserRepo) mutate(id int, fn func(*types.User)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if user, ok := r.users[id]; ok {
		fn(user)
	}
}

// fakeMailer records messages and optionally fails every send.
type fakeMailer struct {
	mu   sync.Mutex
	sent []mail.Message
	fail bool
}

func (m *fakeMailer) Send(ctx context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return fmt.Errorf("smtp connect refused")
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *fakeMailer) last(t *testing.T) mail.Message {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.sent)
	return m.sent[len(m.sent)-1]
}

type testEnv struct {
	router *chi.Mux
	repo   *fakeUserRepo
	mailer *fakeMailer
	issuer *token.Issuer
	users  *services.UserService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	repo := newFakeUserRepo()
	mailer := &fakeMailer{}
	issuer, err := token.NewIssuer("unit-test-secret", time.Hour)
	require.NoError(t, err)
	users := services.NewUserService(repo, events.NewBus(events.NopBackend{}, zap.NewNop().Sugar()))

	handler := NewAuthHandler(users, issuer, mailer, time.Hour, false)
	authMiddleware := RequireAuth(users, issuer)

	router := chi.NewRouter()
	router.Use(middleware.RequestTime())
	AuthRouter(router, handler)
	router.With(authMiddleware).Get("/protected", func(w http.ResponseWriter, r *http.Request) {
		user, err := currentUser(r.Context())
		require.NoError(t, err)
		writeSuccess(w, http.StatusOK, map[string]any{"user": user})
	})
	router.With(authMiddleware, RequireRoles(types.RoleAdmin)).Get("/admin-only", func(w http.ResponseWriter, r *http.Request) {
		writeSuccess(w, http.StatusOK, nil)
	})

	return &testEnv{router: router, repo: repo, mailer: mailer, issuer: issuer, users: users}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) signup(t *testing.T, name, email, password string) (tok string, userID int) {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/signup", map[string]string{
		"name":            name,
		"email":           email,
		"password":        password,
		"passwordConfirm": password,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Token string `json:"token"`
		Data  struct {
			User struct {
				ID int `json:"id"`
			} `json:"user"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token, resp.Data.User.ID
}

func bearer(tok string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + tok}
}

func TestSignupNeverReturnsPassword(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/signup", map[string]string{
		"name":            "A",
		"email":           "a@x.com",
		"password":        "secret123",
		"passwordConfirm": "secret123",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp["status"])
	assert.NotEmpty(t, resp["token"])

	user := resp["data"].(map[string]any)["user"].(map[string]any)
	assert.Equal(t, "a@x.com", user["email"])
	for key := range user {
		assert.NotContains(t, strings.ToLower(key), "password")
	}

	// Token also arrives as an httpOnly cookie.
	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)
	assert.Equal(t, "jwt", cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)
}

func TestSignupValidation(t *testing.T) {
	env := newTestEnv(t)

	cases := []struct {
		name string
		body map[string]string
	}{
		{"missing name", map[string]string{"email": "a@x.com", "password": "secret123", "passwordConfirm": "secret123"}},
		{"bad email", map[string]string{"name": "A", "email": "not-an-email", "password": "secret123", "passwordConfirm": "secret123"}},
		{"short password", map[string]string{"name": "A", "email": "a@x.com", "password": "short", "passwordConfirm": "short"}},
		{"confirm mismatch", map[string]string{"name": "A", "email": "a@x.com", "password": "secret123", "passwordConfirm": "different1"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/signup", tc.body, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestSignupDuplicateEmail(t *testing.T) {
	env := newTestEnv(t)
	env.signup(t, "A", "a@x.com", "secret123")

	rec := env.do(t, http.MethodPost, "/signup", map[string]string{
		"name":            "B",
		"email":           "a@x.com",
		"password":        "secret123",
		"passwordConfirm": "secret123",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLoginWrongPassword(t *testing.T) {
	env := newTestEnv(t)
	env.signup(t, "A", "a@x.com", "secret123")

	rec := env.do(t, http.MethodPost, "/login", map[string]string{
		"email":    "a@x.com",
		"password": "wrongpass1",
	}, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "fail", resp["status"])
	assert.Nil(t, resp["token"])
}

func TestLoginSuccess(t *testing.T) {
	env := newTestEnv(t)
	env.signup(t, "A", "a@x.com", "secret123")

	rec := env.do(t, http.MethodPost, "/login", map[string]string{
		"email":    "a@x.com",
		"password": "secret123",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["token"])
}

func TestRequireAuth(t *testing.T) {
	env := newTestEnv(t)
	tok, userID := env.signup(t, "A", "a@x.com", "secret123")

	t.Run("valid token", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/protected", nil, bearer(tok))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("missing header", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/protected", nil, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong scheme", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/protected", nil, map[string]string{"Authorization": "Basic " + tok})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("garbage token", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/protected", nil, bearer("not.a.token"))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("expired token", func(t *testing.T) {
		expiredIssuer, err := token.NewIssuer("unit-test-secret", -time.Minute)
		require.NoError(t, err)
		expired, err := expiredIssuer.Issue(userID)
		require.NoError(t, err)

		rec := env.do(t, http.MethodGet, "/protected", nil, bearer(expired))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("user deactivated", func(t *testing.T) {
		env.repo.mutate(userID, func(u *types.User) { u.Active = false })
		defer env.repo.mutate(userID, func(u *types.User) { u.Active = true })

		rec := env.do(t, http.MethodGet, "/protected", nil, bearer(tok))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("password changed after issuance", func(t *testing.T) {
		changed := time.Now().Add(time.Minute)
		env.repo.mutate(userID, func(u *types.User) { u.PasswordChangedAt = &changed })
		defer env.repo.mutate(userID, func(u *types.User) { u.PasswordChangedAt = nil })

		rec := env.do(t, http.MethodGet, "/protected", nil, bearer(tok))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestRequireRoles(t *testing.T) {
	env := newTestEnv(t)
	tok, userID := env.signup(t, "A", "a@x.com", "secret123")

	rec := env.do(t, http.MethodGet, "/admin-only", nil, bearer(tok))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	env.repo.mutate(userID, func(u *types.User) { u.Role = types.RoleAdmin })
	rec = env.do(t, http.MethodGet, "/admin-only", nil, bearer(tok))
	assert.Equal(t, http.StatusOK, rec.Code)
}

var resetURLPattern = regexp.MustCompile(`/resetPassword/([0-9a-f]{64})`)

func TestForgotPassword(t *testing.T) {
	env := newTestEnv(t)
	_, userID := env.signup(t, "A", "a@x.com", "secret123")

	t.Run("unknown email", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/forgotPassword", map[string]string{"email": "nobody@x.com"}, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("persists hash and emails plaintext", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/forgotPassword", map[string]string{"email": "a@x.com"}, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		msg := env.mailer.last(t)
		assert.Equal(t, "a@x.com", msg.To)
		match := resetURLPattern.FindStringSubmatch(msg.Body)
		require.Len(t, match, 2)
		plaintext := match[1]

		stored, err := env.repo.GetByID(context.Background(), userID)
		require.NoError(t, err)
		require.NotNil(t, stored.PasswordResetToken)
		require.NotNil(t, stored.PasswordResetExpires)
		// Only the hash is persisted.
		assert.NotEqual(t, plaintext, *stored.PasswordResetToken)
		assert.Equal(t, hashResetToken(plaintext), *stored.PasswordResetToken)
		assert.WithinDuration(t, time.Now().Add(resetTokenTTL), *stored.PasswordResetExpires, 5*time.Second)
	})

	t.Run("failed send clears the token", func(t *testing.T) {
		env.mailer.fail = true
		defer func() { env.mailer.fail = false }()

		rec := env.do(t, http.MethodPost, "/forgotPassword", map[string]string{"email": "a@x.com"}, nil)
		require.Equal(t, http.StatusInternalServerError, rec.Code)

		stored, err := env.repo.GetByID(context.Background(), userID)
		require.NoError(t, err)
		assert.Nil(t, stored.PasswordResetToken)
		assert.Nil(t, stored.PasswordResetExpires)
	})
}

func TestResetPassword(t *testing.T) {
	env := newTestEnv(t)
	_, userID := env.signup(t, "A", "a@x.com", "secret123")

	requestReset := func(t *testing.T) string {
		t.Helper()
		rec := env.do(t, http.MethodPost, "/forgotPassword", map[string]string{"email": "a@x.com"}, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		match := resetURLPattern.FindStringSubmatch(env.mailer.last(t).Body)
		require.Len(t, match, 2)
		return match[1]
	}

	t.Run("redeem logs the user in and is single use", func(t *testing.T) {
		plaintext := requestReset(t)

		rec := env.do(t, http.MethodPatch, "/resetPassword/"+plaintext, map[string]string{
			"password":        "newsecret1",
			"passwordConfirm": "newsecret1",
		}, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp["token"])

		// Token fields cleared on redemption.
		stored, err := env.repo.GetByID(context.Background(), userID)
		require.NoError(t, err)
		assert.Nil(t, stored.PasswordResetToken)
		assert.Nil(t, stored.PasswordResetExpires)

		// Old password no longer works, new one does.
		rec = env.do(t, http.MethodPost, "/login", map[string]string{"email": "a@x.com", "password": "secret123"}, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		rec = env.do(t, http.MethodPost, "/login", map[string]string{"email": "a@x.com", "password": "newsecret1"}, nil)
		assert.Equal(t, http.StatusOK, rec.Code)

		// Replaying the same plaintext token fails.
		rec = env.do(t, http.MethodPatch, "/resetPassword/"+plaintext, map[string]string{
			"password":        "anothersecret1",
			"passwordConfirm": "anothersecret1",
		}, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("expired token is rejected even when the hash matches", func(t *testing.T) {
		plaintext := requestReset(t)

		expired := time.Now().Add(-time.Minute)
		env.repo.mutate(userID, func(u *types.User) { u.PasswordResetExpires = &expired })

		rec := env.do(t, http.MethodPatch, "/resetPassword/"+plaintext, map[string]string{
			"password":        "newsecret2",
			"passwordConfirm": "newsecret2",
		}, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown token", func(t *testing.T) {
		rec := env.do(t, http.MethodPatch, "/resetPassword/"+strings.Repeat("ab", 32), map[string]string{
			"password":        "newsecret3",
			"passwordConfirm": "newsecret3",
		}, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestUpdateMyPassword(t *testing.T) {
	env := newTestEnv(t)
	tok, _ := env.signup(t, "A", "a@x.com", "secret123")

	t.Run("wrong current password", func(t *testing.T) {
		rec := env.do(t, http.MethodPatch, "/updateMyPassword", map[string]string{
			"passwordCurrent": "wrongpass1",
			"password":        "newsecret1",
			"passwordConfirm": "newsecret1",
		}, bearer(tok))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("invalidates old tokens and issues a fresh one", func(t *testing.T) {
		// The change-time skew is one second; make sure the old token's
		// issue time falls clearly before it.
		time.Sleep(1500 * time.Millisecond)

		rec := env.do(t, http.MethodPatch, "/updateMyPassword", map[string]string{
			"passwordCurrent": "secret123",
			"password":        "newsecret1",
			"passwordConfirm": "newsecret1",
		}, bearer(tok))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		fresh, _ := resp["token"].(string)
		require.NotEmpty(t, fresh)

		rec = env.do(t, http.MethodGet, "/protected", nil, bearer(tok))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		rec = env.do(t, http.MethodGet, "/protected", nil, bearer(fresh))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
