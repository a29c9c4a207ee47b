package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pizzacraft/api/internal/auth"
	"github.com/pizzacraft/api/internal/database"
	"github.com/pizzacraft/api/internal/enum"
	"github.com/pizzacraft/api/internal/handler"
	"github.com/pizzacraft/api/internal/middleware"
)

const testSecret = "test-secret"

// --- Mock store ---

type mockAuthStore struct {
	userByEmail map[string]database.User
	userByID    map[uuid.UUID]database.User
	resetTokens map[string]database.SetPasswordResetTokenParams
}

func newMockStore() *mockAuthStore {
	return &mockAuthStore{
		userByEmail: make(map[string]database.User),
		userByID:    make(map[uuid.UUID]database.User),
		resetTokens: make(map[string]database.SetPasswordResetTokenParams),
	}
}

func (m *mockAuthStore) addUser(u database.User) {
	m.userByEmail[u.Email] = u
	m.userByID[u.ID] = u
}

func (m *mockAuthStore) CreateUser(_ context.Context, arg database.CreateUserParams) (database.User, error) {
	u := database.User{
		ID:                     uuid.New(),
		FirstName:              arg.FirstName,
		LastName:               arg.LastName,
		Email:                  arg.Email,
		Phone:                  arg.Phone,
		HashedPassword:         arg.HashedPassword,
		Role:                   arg.Role,
		EmailVerificationToken: arg.EmailVerificationToken,
		CreatedAt:              time.Now(),
		UpdatedAt:              time.Now(),
	}
	m.addUser(u)
	return u, nil
}

func (m *mockAuthStore) GetUserByEmail(_ context.Context, email string) (database.User, error) {
	u, ok := m.userByEmail[email]
	if !ok {
		return database.User{}, pgx.ErrNoRows
	}
	return u, nil
}

func (m *mockAuthStore) GetUserByID(_ context.Context, id uuid.UUID) (database.User, error) {
	u, ok := m.userByID[id]
	if !ok {
		return database.User{}, pgx.ErrNoRows
	}
	return u, nil
}

func (m *mockAuthStore) VerifyUserEmail(_ context.Context, token string) (database.User, error) {
	for _, u := range m.userByID {
		if u.EmailVerificationToken.Valid && u.EmailVerificationToken.String == token {
			u.IsEmailVerified = true
			u.EmailVerificationToken = pgtype.Text{}
			m.addUser(u)
			return u, nil
		}
	}
	return database.User{}, pgx.ErrNoRows
}

func (m *mockAuthStore) SetPasswordResetToken(_ context.Context, arg database.SetPasswordResetTokenParams) error {
	m.resetTokens[arg.Token] = arg
	return nil
}

func (m *mockAuthStore) ResetPassword(_ context.Context, arg database.ResetPasswordParams) (database.User, error) {
	rt, ok := m.resetTokens[arg.Token]
	if !ok || !arg.Now.Before(rt.ExpiresAt) {
		return database.User{}, pgx.ErrNoRows
	}
	u := m.userByID[rt.ID]
	u.HashedPassword = arg.HashedPassword
	m.addUser(u)
	delete(m.resetTokens, arg.Token)
	return u, nil
}

// --- Mock mailer ---

type sentMail struct {
	to, name, token string
}

type mockMailer struct {
	verifications []sentMail
	resets        []sentMail
}

func (m *mockMailer) EmailVerification(_ context.Context, to, name, token string) error {
	m.verifications = append(m.verifications, sentMail{to, name, token})
	return nil
}

func (m *mockMailer) PasswordReset(_ context.Context, to, name, token string) error {
	m.resets = append(m.resets, sentMail{to, name, token})
	return nil
}

// --- Helpers ---

func passthrough(next http.Handler) http.Handler { return next }

func hashPassword(t *testing.T, password string) string {
	t.Helper()
	h, err := auth.HashPassword(password)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	return h
}

func makeTestUser(t *testing.T) database.User {
	t.Helper()
	return database.User{
		ID:             uuid.New(),
		FirstName:      "Asha",
		LastName:       "Rao",
		Email:          "asha@test.com",
		HashedPassword: hashPassword(t, "correct-password"),
		Role:           enum.UserRoleCustomer,
	}
}

func newAuthRouter(store *mockAuthStore, mailer *mockMailer) http.Handler {
	h := handler.NewAuthHandler(store, mailer, testSecret, time.Hour)
	r := chi.NewRouter()
	r.Route("/auth", func(r chi.Router) {
		h.RegisterRoutes(r, passthrough, middleware.Authenticate(testSecret))
	})
	return r
}

func doJSON(t *testing.T, router http.Handler, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("marshal request: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func postJSON(t *testing.T, router http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	return doJSON(t, router, http.MethodPost, path, body, "")
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func responseData(t *testing.T, resp map[string]interface{}) map[string]interface{} {
	t.Helper()
	data, ok := resp["data"].(map[string]interface{})
	if !ok {
		t.Fatalf("data: got %T, want object", resp["data"])
	}
	return data
}

func assertMessage(t *testing.T, rr *httptest.ResponseRecorder, status int, message string) {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("status: got %d, want %d; body: %s", rr.Code, status, rr.Body.String())
	}
	resp := decodeResponse(t, rr)
	if resp["message"] != message {
		t.Errorf("message: got %v, want %q", resp["message"], message)
	}
	if resp["success"] != (status < 400) {
		t.Errorf("success: got %v, want %v", resp["success"], status < 400)
	}
}

// --- Register tests ---

func TestRegister_CreatesCustomerAndSendsVerification(t *testing.T) {
	store := newMockStore()
	mailer := &mockMailer{}
	r := newAuthRouter(store, mailer)

	rr := postJSON(t, r, "/auth/register", map[string]string{
		"firstName": " Asha ",
		"lastName":  "Rao",
		"email":     "Asha@Test.com",
		"phone":     "9876543210",
		"password":  "secret1",
	})

	if rr.Code != http.StatusCreated {
		t.Fatalf("status: got %d, want %d; body: %s", rr.Code, http.StatusCreated, rr.Body.String())
	}
	data := responseData(t, decodeResponse(t, rr))

	user := data["user"].(map[string]interface{})
	if user["email"] != "asha@test.com" {
		t.Errorf("email: got %v, want asha@test.com", user["email"])
	}
	if user["firstName"] != "Asha" {
		t.Errorf("firstName: got %v, want Asha", user["firstName"])
	}
	if user["role"] != enum.UserRoleCustomer {
		t.Errorf("role: got %v, want customer", user["role"])
	}
	if user["isEmailVerified"] != false {
		t.Errorf("isEmailVerified: got %v, want false", user["isEmailVerified"])
	}
	if _, leaked := user["hashedPassword"]; leaked {
		t.Error("response leaks the password hash")
	}

	claims, err := auth.ValidateToken(testSecret, data["token"].(string))
	if err != nil {
		t.Fatalf("token invalid: %v", err)
	}
	if claims.UserID.String() != user["id"] {
		t.Errorf("token user: got %s, want %v", claims.UserID, user["id"])
	}

	stored := store.userByEmail["asha@test.com"]
	if !auth.CheckPassword(stored.HashedPassword, "secret1") {
		t.Error("stored password hash does not match")
	}
	if len(mailer.verifications) != 1 {
		t.Fatalf("verification mails: got %d, want 1", len(mailer.verifications))
	}
	if mailer.verifications[0].token != stored.EmailVerificationToken.String {
		t.Error("mailed token differs from stored token")
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	store := newMockStore()
	store.addUser(makeTestUser(t))
	r := newAuthRouter(store, &mockMailer{})

	rr := postJSON(t, r, "/auth/register", map[string]string{
		"firstName": "Asha",
		"lastName":  "Rao",
		"email":     "asha@test.com",
		"password":  "secret1",
	})

	assertMessage(t, rr, http.StatusBadRequest, "User with this email already exists")
}

func TestRegister_Validation(t *testing.T) {
	tests := []struct {
		name    string
		body    map[string]string
		message string
	}{
		{"missing last name", map[string]string{"firstName": "A", "email": "a@b.co", "password": "secret1"}, "First name and last name are required"},
		{"bad email", map[string]string{"firstName": "A", "lastName": "B", "email": "nope", "password": "secret1"}, "A valid email is required"},
		{"short password", map[string]string{"firstName": "A", "lastName": "B", "email": "a@b.co", "password": "12345"}, "Password must be at least 6 characters"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newAuthRouter(newMockStore(), &mockMailer{})
			assertMessage(t, postJSON(t, r, "/auth/register", tt.body), http.StatusBadRequest, tt.message)
		})
	}
}

// --- Login tests ---

func TestLogin_ValidCredentials(t *testing.T) {
	store := newMockStore()
	user := makeTestUser(t)
	store.addUser(user)
	r := newAuthRouter(store, &mockMailer{})

	rr := postJSON(t, r, "/auth/login", map[string]string{
		"email":    "ASHA@test.com",
		"password": "correct-password",
	})

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d; body: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	resp := decodeResponse(t, rr)
	if resp["message"] != "Login successful" {
		t.Errorf("message: got %v", resp["message"])
	}
	data := responseData(t, resp)
	claims, err := auth.ValidateToken(testSecret, data["token"].(string))
	if err != nil {
		t.Fatalf("token invalid: %v", err)
	}
	if claims.UserID != user.ID {
		t.Errorf("user_id: got %s, want %s", claims.UserID, user.ID)
	}
	if claims.Role != enum.UserRoleCustomer {
		t.Errorf("role: got %s, want customer", claims.Role)
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	store := newMockStore()
	store.addUser(makeTestUser(t))
	r := newAuthRouter(store, &mockMailer{})

	rr := postJSON(t, r, "/auth/login", map[string]string{
		"email":    "asha@test.com",
		"password": "wrong-password",
	})

	assertMessage(t, rr, http.StatusUnauthorized, "Invalid email or password")
}

func TestLogin_UserNotFound(t *testing.T) {
	r := newAuthRouter(newMockStore(), &mockMailer{})

	rr := postJSON(t, r, "/auth/login", map[string]string{
		"email":    "nobody@test.com",
		"password": "whatever",
	})

	assertMessage(t, rr, http.StatusUnauthorized, "Invalid email or password")
}

func TestLogin_MissingFields(t *testing.T) {
	r := newAuthRouter(newMockStore(), &mockMailer{})

	rr := postJSON(t, r, "/auth/login", map[string]string{"email": "asha@test.com"})

	assertMessage(t, rr, http.StatusBadRequest, "Email and password are required")
}

// --- Email verification tests ---

func TestVerifyEmail(t *testing.T) {
	store := newMockStore()
	user := makeTestUser(t)
	user.EmailVerificationToken = pgtype.Text{String: "verify-me", Valid: true}
	store.addUser(user)
	r := newAuthRouter(store, &mockMailer{})

	rr := doJSON(t, r, http.MethodGet, "/auth/verify-email/verify-me", nil, "")
	assertMessage(t, rr, http.StatusOK, "Email verified successfully")
	if !store.userByID[user.ID].IsEmailVerified {
		t.Error("user not marked verified")
	}

	rr = doJSON(t, r, http.MethodGet, "/auth/verify-email/verify-me", nil, "")
	assertMessage(t, rr, http.StatusBadRequest, "Invalid or expired verification token")
}

// --- Password reset tests ---

func TestForgotPassword_UnknownEmailLooksTheSame(t *testing.T) {
	mailer := &mockMailer{}
	r := newAuthRouter(newMockStore(), mailer)

	rr := postJSON(t, r, "/auth/forgot-password", map[string]string{"email": "nobody@test.com"})

	assertMessage(t, rr, http.StatusOK, "If an account with that email exists, we have sent a password reset link.")
	if len(mailer.resets) != 0 {
		t.Errorf("reset mails: got %d, want 0", len(mailer.resets))
	}
}

func TestForgotPassword_ThenReset(t *testing.T) {
	store := newMockStore()
	user := makeTestUser(t)
	store.addUser(user)
	mailer := &mockMailer{}
	r := newAuthRouter(store, mailer)

	before := time.Now()
	rr := postJSON(t, r, "/auth/forgot-password", map[string]string{"email": "asha@test.com"})
	assertMessage(t, rr, http.StatusOK, "If an account with that email exists, we have sent a password reset link.")

	if len(mailer.resets) != 1 {
		t.Fatalf("reset mails: got %d, want 1", len(mailer.resets))
	}
	token := mailer.resets[0].token
	stored, ok := store.resetTokens[token]
	if !ok {
		t.Fatal("mailed token was not stored")
	}
	if stored.ID != user.ID {
		t.Errorf("token user: got %s, want %s", stored.ID, user.ID)
	}
	window := stored.ExpiresAt.Sub(before)
	if window < handler.PasswordResetWindow || window > handler.PasswordResetWindow+time.Minute {
		t.Errorf("expiry window: got %s, want about %s", window, handler.PasswordResetWindow)
	}

	rr = postJSON(t, r, "/auth/reset-password/"+token, map[string]string{"password": "brand-new"})
	assertMessage(t, rr, http.StatusOK, "Password reset successfully")
	if !auth.CheckPassword(store.userByID[user.ID].HashedPassword, "brand-new") {
		t.Error("password not changed")
	}

	rr = postJSON(t, r, "/auth/reset-password/"+token, map[string]string{"password": "brand-new"})
	assertMessage(t, rr, http.StatusBadRequest, "Invalid or expired reset token")
}

func TestResetPassword_ExpiredToken(t *testing.T) {
	store := newMockStore()
	user := makeTestUser(t)
	store.addUser(user)
	store.resetTokens["stale"] = database.SetPasswordResetTokenParams{
		ID:        user.ID,
		Token:     "stale",
		ExpiresAt: time.Now().Add(-time.Minute),
	}
	r := newAuthRouter(store, &mockMailer{})

	rr := postJSON(t, r, "/auth/reset-password/stale", map[string]string{"password": "brand-new"})

	assertMessage(t, rr, http.StatusBadRequest, "Invalid or expired reset token")
}

func TestResetPassword_ShortPassword(t *testing.T) {
	r := newAuthRouter(newMockStore(), &mockMailer{})

	rr := postJSON(t, r, "/auth/reset-password/whatever", map[string]string{"password": "123"})

	assertMessage(t, rr, http.StatusBadRequest, "Password must be at least 6 characters")
}

// --- Profile tests ---

func TestProfile(t *testing.T) {
	store := newMockStore()
	user := makeTestUser(t)
	store.addUser(user)
	r := newAuthRouter(store, &mockMailer{})

	token, err := auth.GenerateToken(testSecret, user.ID, user.Role, time.Hour)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	rr := doJSON(t, r, http.MethodGet, "/auth/profile", nil, token)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d; body: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	data := responseData(t, decodeResponse(t, rr))
	if data["user"].(map[string]interface{})["lastName"] != "Rao" {
		t.Errorf("lastName: got %v, want Rao", data["user"])
	}
}

func TestProfile_RequiresToken(t *testing.T) {
	r := newAuthRouter(newMockStore(), &mockMailer{})

	rr := doJSON(t, r, http.MethodGet, "/auth/profile", nil, "")
	assertMessage(t, rr, http.StatusUnauthorized, "Access token required")

	rr = doJSON(t, r, http.MethodGet, "/auth/profile", nil, "garbage")
	assertMessage(t, rr, http.StatusForbidden, "Invalid or expired token")
}

func TestProfile_DeletedUser(t *testing.T) {
	r := newAuthRouter(newMockStore(), &mockMailer{})
	token, err := auth.GenerateToken(testSecret, uuid.New(), enum.UserRoleCustomer, time.Hour)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	rr := doJSON(t, r, http.MethodGet, "/auth/profile", nil, token)

	assertMessage(t, rr, http.StatusNotFound, "User not found")
}
