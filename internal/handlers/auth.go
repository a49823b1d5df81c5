package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/loopchat/backend/internal/logging"
	"github.com/loopchat/backend/internal/models"
	"github.com/loopchat/backend/internal/repositories"
)

// AuthHandler implements user authentication endpoints.
type AuthHandler struct {
	Users    UserStore
	Sessions SessionManager
	Denylist TokenDenylist
	Limiter  RateLimiter
	NowFunc  func() time.Time
}

// Register handles POST /api/auth/register requests.
func (h AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if !allowRequest(h.Limiter, r, "register") {
		respondError(ctx, w, http.StatusTooManyRequests, "too many registration attempts")
		return
	}

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid register payload", "error", err)
		respondError(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))

	if violations := validateRegistration(req); len(violations) > 0 {
		logger.Warn("registration validation failed", "violations", len(violations))
		respondJSON(ctx, w, http.StatusBadRequest, map[string][]string{"errors": violations})
		return
	}

	if _, err := h.Users.FindByEmail(ctx, req.Email); err == nil {
		logger.Warn("registration for existing account", "email", req.Email)
		respondError(ctx, w, http.StatusBadRequest, "user already exists")
		return
	} else if !errors.Is(err, repositories.ErrNotFound) {
		logger.Error("registration lookup failed", "error", err, "email", req.Email)
		respondError(ctx, w, http.StatusInternalServerError, "unable to verify existing accounts")
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		logger.Error("failed to hash password", "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "failed to secure password")
		return
	}

	now := h.now()
	user := models.User{
		ID:        uuid.NewString(),
		Username:  req.Username,
		Email:     req.Email,
		Password:  string(hashed),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := h.Users.Create(ctx, user); err != nil {
		if errors.Is(err, repositories.ErrConflict) {
			respondError(ctx, w, http.StatusBadRequest, "user already exists")
			return
		}
		logger.Error("failed to create user", "error", err, "email", req.Email)
		respondError(ctx, w, http.StatusInternalServerError, "failed to create account")
		return
	}

	respondJSON(ctx, w, http.StatusCreated, map[string]any{
		"message": "User registered successfully",
		"user":    user.Profile(),
	})
}

// Login handles POST /api/auth/login requests.
func (h AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if !allowRequest(h.Limiter, r, "login") {
		respondError(ctx, w, http.StatusTooManyRequests, "too many login attempts")
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid login payload", "error", err)
		respondError(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	var violations []string
	if _, err := mail.ParseAddress(req.Email); err != nil {
		violations = append(violations, "a valid email is required")
	}
	if req.Password == "" {
		violations = append(violations, "password is required")
	}
	if len(violations) > 0 {
		respondJSON(ctx, w, http.StatusBadRequest, map[string][]string{"errors": violations})
		return
	}

	// A missing account and a wrong password produce the same response so the
	// endpoint cannot be used to probe which emails are registered.
	user, err := h.Users.FindByEmail(ctx, req.Email)
	if err != nil {
		if !errors.Is(err, repositories.ErrNotFound) {
			logger.Error("login lookup failed", "error", err)
			respondError(ctx, w, http.StatusInternalServerError, "unable to process login")
			return
		}
		respondError(ctx, w, http.StatusUnauthorized, "invalid email or password")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		logger.Warn("login password mismatch", "userId", user.ID)
		respondError(ctx, w, http.StatusUnauthorized, "invalid email or password")
		return
	}

	token, _, err := h.Sessions.Issue(user)
	if err != nil {
		logger.Error("failed to issue session token", "error", err, "userId", user.ID)
		respondError(ctx, w, http.StatusInternalServerError, "failed to create session")
		return
	}

	respondJSON(ctx, w, http.StatusOK, map[string]any{
		"message": "Login successful",
		"user":    user.Profile(),
		"token":   token,
	})
}

// Logout handles POST /api/auth/logout requests by denylisting the presented
// token until its own expiry.
func (h AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	logger := logging.FromContext(ctx)

	token := bearerToken(r)
	if token == "" {
		respondError(ctx, w, http.StatusBadRequest, "no token provided")
		return
	}

	expiresAt, err := h.Sessions.ExpiryOf(token)
	if err != nil {
		respondError(ctx, w, http.StatusBadRequest, "invalid token")
		return
	}

	if err := h.Denylist.Revoke(ctx, token, expiresAt); err != nil {
		logger.Error("failed to denylist token", "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "failed to log out")
		return
	}

	respondJSON(ctx, w, http.StatusOK, map[string]string{"message": "Logout successful"})
}

// Me handles GET /api/auth/me requests for the authenticated user.
func (h AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	user, ok := CurrentUser(ctx)
	if !ok {
		respondError(ctx, w, http.StatusUnauthorized, "not authenticated")
		return
	}

	respondJSON(ctx, w, http.StatusOK, map[string]any{"user": user.Profile()})
}

type registerRequest struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// validateRegistration returns every violation, not just the first, so the
// client can surface them all at once.
func validateRegistration(req registerRequest) []string {
	var violations []string

	if len(req.Username) < 3 || len(req.Username) > 30 {
		violations = append(violations, "username must be between 3 and 30 characters")
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		violations = append(violations, "a valid email is required")
	}
	violations = append(violations, passwordViolations(req.Password)...)
	if req.ConfirmPassword != req.Password {
		violations = append(violations, "confirm password must match password")
	}

	return violations
}

func passwordViolations(password string) []string {
	var violations []string

	if len(password) < 6 {
		violations = append(violations, "password must be at least 6 characters")
	}

	var hasUpper, hasLower, hasDigit, hasSymbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			hasSymbol = true
		}
	}
	if !hasUpper || !hasLower || !hasDigit || !hasSymbol {
		violations = append(violations, "password must contain at least one uppercase letter, one lowercase letter, one number and one special character")
	}

	return violations
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func (h AuthHandler) now() time.Time {
	if h.NowFunc != nil {
		return h.NowFunc()
	}
	return time.Now().UTC()
}
