package handlers

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/trailhead-tours/apiserver/internal/apperror"
	"github.com/trailhead-tours/apiserver/internal/mail"
	"github.com/trailhead-tours/apiserver/internal/services"
	"github.com/trailhead-tours/apiserver/internal/store"
	"github.com/trailhead-tours/apiserver/internal/token"
	"github.com/trailhead-tours/apiserver/types"
	"golang.org/x/crypto/bcrypt"
)

const (
	resetTokenTTL     = 10 * time.Minute
	minPasswordLength = 8
	jwtCookieName     = "jwt"
)

// AuthHandler provides the authentication and password lifecycle
// endpoints.
type AuthHandler struct {
	users        *services.UserService
	issuer       *token.Issuer
	mailer       mail.Mailer
	cookieTTL    time.Duration
	secureCookie bool
}

// NewAuthHandler constructs an AuthHandler with the provided dependencies.
func NewAuthHandler(users *services.UserService, issuer *token.Issuer, mailer mail.Mailer, cookieTTL time.Duration, secureCookie bool) *AuthHandler {
	if cookieTTL <= 0 {
		cookieTTL = issuer.TTL()
	}
	return &AuthHandler{
		users:        users,
		issuer:       issuer,
		mailer:       mailer,
		cookieTTL:    cookieTTL,
		secureCookie: secureCookie,
	}
}

// AuthRouter registers the auth routes on the given router.
func AuthRouter(r chi.Router, handler *AuthHandler) {
	r.Post("/signup", handler.Signup)
	r.Post("/login", handler.Login)
	r.Post("/forgotPassword", handler.ForgotPassword)
	r.Patch("/resetPassword/{token}", handler.ResetPassword)
	r.With(handler.RequireAuth).Patch("/updateMyPassword", handler.UpdateMyPassword)
}

// RequireAuth enforces bearer-token authentication and attaches the
// resolved user to the request context.
func (h *AuthHandler) RequireAuth(next http.Handler) http.Handler {
	return RequireAuth(h.users, h.issuer)(next)
}

// RequireAuth constructs auth middleware for other routers. The request
// is rejected unless the token verifies, the user still exists and is
// active, and the password has not changed since the token was issued.
func RequireAuth(users *services.UserService, issuer *token.Issuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, err := bearerToken(r)
			if err != nil {
				writeErr(w, apperror.Unauthenticated("you are not logged in, please log in to get access"))
				return
			}

			claims, err := issuer.Verify(tokenString)
			if err != nil {
				if errors.Is(err, token.ErrExpiredToken) {
					writeErr(w, apperror.Unauthenticated("your token has expired, please log in again"))
					return
				}
				writeErr(w, apperror.Unauthenticated("invalid token, please log in again"))
				return
			}

			user, err := users.GetByID(r.Context(), claims.UserID)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					writeErr(w, apperror.Unauthenticated("the user belonging to this token no longer exists"))
					return
				}
				writeErr(w, apperror.Internal("failed to load user"))
				return
			}

			if user.PasswordChangedAfter(claims.IssuedAt) {
				writeErr(w, apperror.Unauthenticated("password recently changed, please log in again"))
				return
			}

			next.ServeHTTP(w, r.WithContext(withUser(r.Context(), user)))
		})
	}
}

// RequireRoles rejects authenticated users whose role is outside the
// allowed set. Always 403; composed after RequireAuth.
func RequireRoles(roles ...types.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := currentUser(r.Context())
			if err != nil {
				writeErr(w, apperror.Unauthenticated("you are not logged in, please log in to get access"))
				return
			}
			if !user.Role.In(roles...) {
				writeErr(w, apperror.Forbidden("you do not have permission to perform this action"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type SignupRequest struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"passwordConfirm"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

type ResetPasswordRequest struct {
	Password        string `json:"password"`
	PasswordConfirm string `json:"passwordConfirm"`
}

type UpdatePasswordRequest struct {
	PasswordCurrent string `json:"passwordCurrent"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"passwordConfirm"`
}

// Signup creates a new user account and logs it in. The role is always
// "user"; privileged roles are assigned out of band.
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, apperror.BadRequest("invalid request body"))
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Email = normalizeEmail(req.Email)
	if req.Name == "" || req.Email == "" {
		writeErr(w, apperror.BadRequest("name and email are required"))
		return
	}
	if !strings.Contains(req.Email, "@") {
		writeErr(w, apperror.BadRequest("please provide a valid email"))
		return
	}
	if err := validatePassword(req.Password, req.PasswordConfirm); err != nil {
		writeErr(w, err)
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeErr(w, apperror.Internal("failed to create user"))
		return
	}

	user, err := h.users.Create(r.Context(), types.User{
		Name:         req.Name,
		Email:        req.Email,
		Role:         types.RoleUser,
		PasswordHash: string(hashed),
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			writeErr(w, apperror.BadRequest("email already in use"))
			return
		}
		writeErr(w, apperror.Internal("failed to create user"))
		return
	}

	h.sendToken(w, http.StatusOK, user)
}

// Login verifies credentials and issues a session token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, apperror.BadRequest("invalid request body"))
		return
	}

	req.Email = normalizeEmail(req.Email)
	if req.Email == "" || req.Password == "" {
		writeErr(w, apperror.BadRequest("please provide email and password"))
		return
	}

	user, err := h.users.GetByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeErr(w, apperror.Unauthenticated("invalid email or password"))
			return
		}
		writeErr(w, apperror.Internal("failed to authenticate"))
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		writeErr(w, apperror.Unauthenticated("invalid email or password"))
		return
	}

	h.sendToken(w, http.StatusOK, user)
}

// ForgotPassword starts the reset flow: a random token is generated, its
// hash persisted with a short expiry, and the plaintext emailed. A failed
// send clears the persisted token so no valid reset token survives a
// failed delivery.
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, apperror.BadRequest("invalid request body"))
		return
	}

	req.Email = normalizeEmail(req.Email)
	if req.Email == "" {
		writeErr(w, apperror.BadRequest("please provide an email address"))
		return
	}

	user, err := h.users.GetByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeErr(w, apperror.NotFound("there is no user with that email address"))
			return
		}
		writeErr(w, apperror.Internal("failed to look up user"))
		return
	}

	plaintext, hash, err := newResetToken()
	if err != nil {
		writeErr(w, apperror.Internal("failed to create reset token"))
		return
	}

	expires := time.Now().Add(resetTokenTTL)
	if err := h.users.SetPasswordReset(r.Context(), user.ID, hash, expires); err != nil {
		writeErr(w, apperror.Internal("failed to store reset token"))
		return
	}

	resetURL := fmt.Sprintf("%s://%s/api/v1/users/resetPassword/%s", requestScheme(r), r.Host, plaintext)
	body := fmt.Sprintf(
		"Forgot your password? Submit a PATCH request with your new password and passwordConfirm to: %s\nIf you didn't forget your password, please ignore this email.",
		resetURL,
	)

	err = h.mailer.Send(r.Context(), mail.Message{
		To:      user.Email,
		Subject: "Your password reset token (valid for 10 min)",
		Body:    body,
	})
	if err != nil {
		// Best-effort rollback; a crash here leaves a token outstanding,
		// bounded by the 10 minute expiry.
		_ = h.users.ClearPasswordReset(r.Context(), user.ID)
		writeErr(w, apperror.Internal("there was an error sending the email, try again later"))
		return
	}

	writeJSON(w, http.StatusOK, Envelope{Status: "success", Message: "token sent to email"})
}

// ResetPassword redeems a reset token: the presented plaintext is hashed
// and matched against an unexpired stored hash, the password replaced and
// the token cleared in one write, and the user logged in.
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	plaintext := strings.TrimSpace(chi.URLParam(r, "token"))
	if plaintext == "" {
		writeErr(w, apperror.BadRequest("reset token is required"))
		return
	}

	var req ResetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, apperror.BadRequest("invalid request body"))
		return
	}
	if err := validatePassword(req.Password, req.PasswordConfirm); err != nil {
		writeErr(w, err)
		return
	}

	user, err := h.users.GetByResetToken(r.Context(), hashResetToken(plaintext))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeErr(w, apperror.BadRequest("token is invalid or has expired"))
			return
		}
		writeErr(w, apperror.Internal("failed to look up reset token"))
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeErr(w, apperror.Internal("failed to reset password"))
		return
	}

	if err := h.users.SetPassword(r.Context(), user.ID, string(hashed)); err != nil {
		writeErr(w, apperror.Internal("failed to reset password"))
		return
	}

	h.sendToken(w, http.StatusOK, user)
}

// UpdateMyPassword lets an authenticated user change their password by
// presenting the current one.
func (h *AuthHandler) UpdateMyPassword(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r.Context())
	if err != nil {
		writeErr(w, apperror.Unauthenticated("you are not logged in, please log in to get access"))
		return
	}

	var req UpdatePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, apperror.BadRequest("invalid request body"))
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.PasswordCurrent)); err != nil {
		writeErr(w, apperror.Unauthenticated("your current password is wrong"))
		return
	}
	if err := validatePassword(req.Password, req.PasswordConfirm); err != nil {
		writeErr(w, err)
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeErr(w, apperror.Internal("failed to update password"))
		return
	}

	if err := h.users.SetPassword(r.Context(), user.ID, string(hashed)); err != nil {
		writeErr(w, apperror.Internal("failed to update password"))
		return
	}

	h.sendToken(w, http.StatusOK, user)
}

// sendToken issues a session token for the user, sets it as an httpOnly
// cookie, and writes the login-shaped envelope. The user payload never
// carries the password hash.
func (h *AuthHandler) sendToken(w http.ResponseWriter, status int, user types.User) {
	signed, err := h.issuer.Issue(user.ID)
	if err != nil {
		writeErr(w, apperror.Internal("failed to create token"))
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     jwtCookieName,
		Value:    signed,
		Path:     "/",
		Expires:  time.Now().Add(h.cookieTTL),
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, status, Envelope{
		Status: "success",
		Token:  signed,
		Data:   map[string]any{"user": user},
	})
}

func bearerToken(r *http.Request) (string, error) {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth == "" {
		return "", errors.New("missing authorization")
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization")
	}
	bearer := strings.TrimSpace(parts[1])
	if bearer == "" {
		return "", errors.New("invalid authorization")
	}
	return bearer, nil
}

func validatePassword(password, confirm string) *apperror.Error {
	if len(password) < minPasswordLength {
		return apperror.BadRequest("password must be at least 8 characters")
	}
	if password != confirm {
		return apperror.BadRequest("passwords do not match")
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// newResetToken returns the plaintext token for the email and the hash
// for the database. Only the hash is ever persisted.
func newResetToken() (plaintext, hash string, err error) {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", "", err
	}
	plaintext = hex.EncodeToString(buf[:])
	return plaintext, hashResetToken(plaintext), nil
}

func hashResetToken(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

func requestScheme(r *http.Request) string {
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		return proto
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}
