package handler

import (
	"context"
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pizzacraft/api/internal/auth"
	"github.com/pizzacraft/api/internal/database"
	"github.com/pizzacraft/api/internal/enum"
	"github.com/pizzacraft/api/internal/middleware"
	log "github.com/sirupsen/logrus"
)

// PasswordResetWindow is how long a reset link stays valid.
const PasswordResetWindow = 10 * time.Minute

const forgotPasswordMessage = "If an account with that email exists, we have sent a password reset link."

// AuthStore defines the database methods needed by auth handlers.
// Satisfied by *database.Queries; narrow interface for testability.
type AuthStore interface {
	CreateUser(ctx context.Context, arg database.CreateUserParams) (database.User, error)
	GetUserByEmail(ctx context.Context, email string) (database.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (database.User, error)
	VerifyUserEmail(ctx context.Context, token string) (database.User, error)
	SetPasswordResetToken(ctx context.Context, arg database.SetPasswordResetTokenParams) error
	ResetPassword(ctx context.Context, arg database.ResetPasswordParams) (database.User, error)
}

// AccountMailer sends account e-mails. Satisfied by *notify.Notifier.
type AccountMailer interface {
	EmailVerification(ctx context.Context, to, name, token string) error
	PasswordReset(ctx context.Context, to, name, token string) error
}

// AuthHandler handles authentication endpoints.
type AuthHandler struct {
	store     AuthStore
	mail      AccountMailer
	jwtSecret string
	tokenTTL  time.Duration
	now       func() time.Time
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(store AuthStore, mail AccountMailer, jwtSecret string, tokenTTL time.Duration) *AuthHandler {
	return &AuthHandler{
		store:     store,
		mail:      mail,
		jwtSecret: jwtSecret,
		tokenTTL:  tokenTTL,
		now:       time.Now,
	}
}

// RegisterRoutes registers auth endpoints on the given Chi router.
// limit wraps the credential endpoints; authenticate guards the profile.
func (h *AuthHandler) RegisterRoutes(r chi.Router, limit, authenticate func(http.Handler) http.Handler) {
	r.With(limit).Post("/register", h.Register)
	r.With(limit).Post("/login", h.Login)
	r.Get("/verify-email/{token}", h.VerifyEmail)
	r.With(limit).Post("/forgot-password", h.ForgotPassword)
	r.Post("/reset-password/{token}", h.ResetPassword)
	r.With(authenticate).Get("/profile", h.Profile)
}

// --- Request / Response types ---

type registerRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Password  string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Password string `json:"password"`
}

type userResponse struct {
	ID              uuid.UUID `json:"id"`
	FirstName       string    `json:"firstName"`
	LastName        string    `json:"lastName"`
	Email           string    `json:"email"`
	Phone           *string   `json:"phone"`
	Role            string    `json:"role"`
	IsEmailVerified bool      `json:"isEmailVerified"`
	CreatedAt       time.Time `json:"createdAt"`
}

type sessionResponse struct {
	User  userResponse `json:"user"`
	Token string       `json:"token"`
}

func toUserResponse(u database.User) userResponse {
	resp := userResponse{
		ID:              u.ID,
		FirstName:       u.FirstName,
		LastName:        u.LastName,
		Email:           u.Email,
		Role:            u.Role,
		IsEmailVerified: u.IsEmailVerified,
		CreatedAt:       u.CreatedAt,
	}
	if u.Phone.Valid {
		resp.Phone = &u.Phone.String
	}
	return resp
}

// --- Handlers ---

// Register creates a customer account and signs it in.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	req.Email = normalizeEmail(req.Email)
	req.Phone = strings.TrimSpace(req.Phone)

	if req.FirstName == "" || req.LastName == "" {
		writeError(w, http.StatusBadRequest, "First name and last name are required")
		return
	}
	if !validEmail(req.Email) {
		writeError(w, http.StatusBadRequest, "A valid email is required")
		return
	}
	if len(req.Password) < auth.MinPasswordLength {
		writeError(w, http.StatusBadRequest, "Password must be at least 6 characters")
		return
	}

	if _, err := h.store.GetUserByEmail(r.Context(), req.Email); err == nil {
		writeError(w, http.StatusBadRequest, "User with this email already exists")
		return
	} else if !errors.Is(err, pgx.ErrNoRows) {
		writeInternalError(w, "register: lookup user", err)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeInternalError(w, "register: hash password", err)
		return
	}
	verifyToken, err := auth.RandomToken()
	if err != nil {
		writeInternalError(w, "register: verification token", err)
		return
	}

	phone := pgtype.Text{}
	if req.Phone != "" {
		phone = pgtype.Text{String: req.Phone, Valid: true}
	}

	user, err := h.store.CreateUser(r.Context(), database.CreateUserParams{
		FirstName:              req.FirstName,
		LastName:               req.LastName,
		Email:                  req.Email,
		Phone:                  phone,
		HashedPassword:         hash,
		Role:                   enum.UserRoleCustomer,
		EmailVerificationToken: pgtype.Text{String: verifyToken, Valid: true},
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			writeError(w, http.StatusBadRequest, "User with this email already exists")
			return
		}
		writeInternalError(w, "register: create user", err)
		return
	}

	if err := h.mail.EmailVerification(r.Context(), user.Email, user.FirstName, verifyToken); err != nil {
		log.WithError(err).WithField("user_id", user.ID).Warn("queue verification email")
	}

	token, err := auth.GenerateToken(h.jwtSecret, user.ID, user.Role, h.tokenTTL)
	if err != nil {
		writeInternalError(w, "register: sign token", err)
		return
	}

	writeData(w, http.StatusCreated, "User registered successfully. Please check your email for verification.",
		sessionResponse{User: toUserResponse(user), Token: token})
}

// Login handles email + password authentication.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	email := normalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	user, err := h.store.GetUserByEmail(r.Context(), email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusUnauthorized, "Invalid email or password")
			return
		}
		writeInternalError(w, "login: lookup user", err)
		return
	}

	if !auth.CheckPassword(user.HashedPassword, req.Password) {
		writeError(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}

	token, err := auth.GenerateToken(h.jwtSecret, user.ID, user.Role, h.tokenTTL)
	if err != nil {
		writeInternalError(w, "login: sign token", err)
		return
	}

	writeData(w, http.StatusOK, "Login successful", sessionResponse{User: toUserResponse(user), Token: token})
}

// VerifyEmail consumes an e-mail verification token.
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if token == "" {
		writeError(w, http.StatusBadRequest, "Invalid or expired verification token")
		return
	}

	if _, err := h.store.VerifyUserEmail(r.Context(), token); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusBadRequest, "Invalid or expired verification token")
			return
		}
		writeInternalError(w, "verify email", err)
		return
	}

	writeMessage(w, http.StatusOK, "Email verified successfully")
}

// ForgotPassword issues a reset link. The response never reveals whether the
// address has an account.
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	email := normalizeEmail(req.Email)
	if email == "" {
		writeError(w, http.StatusBadRequest, "Email is required")
		return
	}

	user, err := h.store.GetUserByEmail(r.Context(), email)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			log.WithError(err).Error("forgot password: lookup user")
		}
		writeMessage(w, http.StatusOK, forgotPasswordMessage)
		return
	}

	resetToken, err := auth.RandomToken()
	if err != nil {
		writeInternalError(w, "forgot password: reset token", err)
		return
	}

	err = h.store.SetPasswordResetToken(r.Context(), database.SetPasswordResetTokenParams{
		ID:        user.ID,
		Token:     resetToken,
		ExpiresAt: h.now().Add(PasswordResetWindow),
	})
	if err != nil {
		writeInternalError(w, "forgot password: store token", err)
		return
	}

	if err := h.mail.PasswordReset(r.Context(), user.Email, user.FirstName, resetToken); err != nil {
		log.WithError(err).WithField("user_id", user.ID).Warn("queue password reset email")
	}

	writeMessage(w, http.StatusOK, forgotPasswordMessage)
}

// ResetPassword sets a new password for a valid, unexpired reset token.
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.Password) < auth.MinPasswordLength {
		writeError(w, http.StatusBadRequest, "Password must be at least 6 characters")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeInternalError(w, "reset password: hash", err)
		return
	}

	_, err = h.store.ResetPassword(r.Context(), database.ResetPasswordParams{
		Token:          chi.URLParam(r, "token"),
		HashedPassword: hash,
		Now:            h.now(),
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusBadRequest, "Invalid or expired reset token")
			return
		}
		writeInternalError(w, "reset password", err)
		return
	}

	writeMessage(w, http.StatusOK, "Password reset successfully")
}

// Profile returns the signed-in user.
func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	user, err := h.store.GetUserByID(r.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
		writeInternalError(w, "get profile", err)
		return
	}

	writeData(w, http.StatusOK, "", map[string]userResponse{"user": toUserResponse(user)})
}

// --- Helpers ---

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func validEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}
