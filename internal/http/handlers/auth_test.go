package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/geocoder89/shopfront/internal/auth"
	"github.com/geocoder89/shopfront/internal/config"
	"github.com/geocoder89/shopfront/internal/domain/user"
	"github.com/geocoder89/shopfront/internal/http/handlers"
	"github.com/geocoder89/shopfront/internal/http/middlewares"
	"github.com/geocoder89/shopfront/internal/oauth"
	"github.com/geocoder89/shopfront/internal/repo/memory"
	"github.com/geocoder89/shopfront/internal/revocation"
	"github.com/gin-gonic/gin"
)

// Make sure Gin does not spam the console during the test
func init() {
	gin.SetMode(gin.TestMode)
}

type fakeGoogle struct {
	profileFn  func(ctx context.Context, token string) (oauth.Profile, error)
	exchangeFn func(ctx context.Context, code string) (oauth.Profile, error)
}

func (f *fakeGoogle) ConsentURL(state string) string {
	return "https://accounts.google.test/auth?state=" + url.QueryEscape(state)
}

func (f *fakeGoogle) ExchangeCode(ctx context.Context, code string) (oauth.Profile, error) {
	if f.exchangeFn != nil {
		return f.exchangeFn(ctx, code)
	}
	return oauth.Profile{}, oauth.ErrInvalidAssertion
}

func (f *fakeGoogle) ProfileFromAccessToken(ctx context.Context, token string) (oauth.Profile, error) {
	if f.profileFn != nil {
		return f.profileFn(ctx, token)
	}
	return oauth.Profile{}, oauth.ErrInvalidAssertion
}

type testEnv struct {
	engine   *gin.Engine
	users    *memory.UsersRepo
	sessions *memory.RefreshTokensRepo
	revoked  *revocation.MemoryList
	jwt      *auth.Manager
	google   *fakeGoogle
}

// newTestEnv mounts the account routes the same way the router does, over
// in-memory stores.
func newTestEnv(t *testing.T, withGoogle bool) *testEnv {
	t.Helper()

	env := &testEnv{
		users:    memory.NewUsersRepo(),
		sessions: memory.NewRefreshTokensRepo(),
		revoked:  revocation.NewMemoryList(),
		jwt:      auth.NewManager("access-secret", "refresh-secret", 15*time.Minute, 30*24*time.Hour),
		google:   &fakeGoogle{},
	}

	var google handlers.GoogleIdentity
	if withGoogle {
		google = env.google
	}

	cfg := config.Config{Env: "test"}
	authH := handlers.NewAuthHandler(env.users, env.sessions, env.jwt, env.revoked, google, cfg)
	usersH := handlers.NewUsersHandler(env.users, env.sessions)
	authMW := middlewares.NewAuthMiddleware(env.jwt, env.users, env.revoked, true)

	r := gin.New()
	r.GET("/auth/google", authH.GoogleConsent)
	r.GET("/auth/google/callback", authH.GoogleCallback)

	api := r.Group("/api/users")
	api.POST("", authH.Register)
	api.POST("/login", authH.Login)
	api.POST("/google-login", authH.GoogleLogin)
	api.POST("/refresh", authH.Refresh)
	api.POST("/logout", authMW.RequireAuth(), authH.Logout)
	api.GET("/profile", authMW.RequireAuth(), usersH.GetProfile)
	api.PUT("/profile", authMW.RequireAuth(), usersH.UpdateProfile)
	admin := api.Group("", authMW.RequireAuth(), authMW.RequireAdmin())
	admin.GET("", usersH.ListUsers)
	admin.GET("/:id", usersH.GetUser)
	admin.PUT("/:id", usersH.UpdateUser)
	admin.DELETE("/:id", usersH.DeleteUser)

	env.engine = r
	return env
}

type reqOpts struct {
	token   string
	cookies []*http.Cookie
}

func (e *testEnv) do(method, path, body string, opts reqOpts) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if opts.token != "" {
		req.Header.Set("Authorization", "Bearer "+opts.token)
	}
	for _, c := range opts.cookies {
		req.AddCookie(c)
	}

	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	return w
}

type authBody struct {
	User        user.User `json:"user"`
	AccessToken string    `json:"accessToken"`
}

func decodeAuth(t *testing.T, w *httptest.ResponseRecorder) authBody {
	t.Helper()
	var body authBody
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode auth response: %v body=%s", err, w.Body.String())
	}
	if body.AccessToken == "" {
		t.Fatalf("missing access token: %s", w.Body.String())
	}
	return body
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error handlers.APIError `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error response: %v body=%s", err, w.Body.String())
	}
	return body.Error.Code
}

func refreshCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == "refresh_token" && c.Value != "" {
			if !c.HttpOnly {
				t.Fatalf("refresh cookie must be HttpOnly")
			}
			return c
		}
	}
	t.Fatalf("no refresh cookie in response")
	return nil
}

func (e *testEnv) register(t *testing.T, name, email, password string) (authBody, *http.Cookie) {
	t.Helper()
	w := e.do(http.MethodPost, "/api/users", `{"name":"`+name+`","email":"`+email+`","password":"`+password+`"}`, reqOpts{})
	if w.Code != http.StatusCreated {
		t.Fatalf("register %s: got %d body=%s", email, w.Code, w.Body.String())
	}
	return decodeAuth(t, w), refreshCookie(t, w)
}

func TestRegisterThenLogin(t *testing.T) {
	env := newTestEnv(t, false)

	reg, _ := env.register(t, "Jane", "jane@example.com", "secret123")
	if reg.User.Email != "jane@example.com" || reg.User.IsAdmin {
		t.Fatalf("unexpected registered user: %+v", reg.User)
	}

	stored, err := env.users.GetByEmail(context.Background(), "jane@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if stored.PasswordHash == "" || stored.PasswordHash == "secret123" {
		t.Fatalf("password must be stored hashed, got %q", stored.PasswordHash)
	}

	w := env.do(http.MethodPost, "/api/users/login", `{"email":"jane@example.com","password":"secret123"}`, reqOpts{})
	if w.Code != http.StatusOK {
		t.Fatalf("login: got %d body=%s", w.Code, w.Body.String())
	}
	login := decodeAuth(t, w)
	if login.User.ID != reg.User.ID {
		t.Fatalf("logged into a different user")
	}
	if bytes.Contains(w.Body.Bytes(), []byte(stored.PasswordHash)) {
		t.Fatalf("response leaked the password hash")
	}

	w = env.do(http.MethodGet, "/api/users/profile", "", reqOpts{token: login.AccessToken})
	if w.Code != http.StatusOK {
		t.Fatalf("profile: got %d", w.Code)
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	env := newTestEnv(t, false)
	env.register(t, "Jane", "jane@example.com", "secret123")

	for _, body := range []string{
		`{"email":"jane@example.com","password":"wrong-password"}`,
		`{"email":"nobody@example.com","password":"secret123"}`,
	} {
		w := env.do(http.MethodPost, "/api/users/login", body, reqOpts{})
		if w.Code != http.StatusUnauthorized || errorCode(t, w) != "invalid_credentials" {
			t.Fatalf("body %s: got %d %s", body, w.Code, w.Body.String())
		}
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	env := newTestEnv(t, false)
	first, _ := env.register(t, "Jane", "jane@example.com", "secret123")

	w := env.do(http.MethodPost, "/api/users", `{"name":"Imposter","email":"JANE@example.com","password":"other-pass"}`, reqOpts{})
	if w.Code != http.StatusConflict || errorCode(t, w) != "email_taken" {
		t.Fatalf("got %d body=%s", w.Code, w.Body.String())
	}

	w = env.do(http.MethodPost, "/api/users/login", `{"email":"jane@example.com","password":"secret123"}`, reqOpts{})
	if w.Code != http.StatusOK || decodeAuth(t, w).User.ID != first.User.ID {
		t.Fatalf("first user should be unaffected, got %d", w.Code)
	}
}

func TestRefresh_RotatesAndDetectsReuse(t *testing.T) {
	env := newTestEnv(t, false)
	_, cookie := env.register(t, "Jane", "jane@example.com", "secret123")

	w := env.do(http.MethodPost, "/api/users/refresh", "", reqOpts{cookies: []*http.Cookie{cookie}})
	if w.Code != http.StatusOK {
		t.Fatalf("refresh: got %d body=%s", w.Code, w.Body.String())
	}
	decodeAuth(t, w)
	rotated := refreshCookie(t, w)
	if rotated.Value == cookie.Value {
		t.Fatalf("refresh token was not rotated")
	}

	// replaying the first token is treated as theft
	w = env.do(http.MethodPost, "/api/users/refresh", "", reqOpts{cookies: []*http.Cookie{cookie}})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("replay: got %d", w.Code)
	}

	// which also kills the legitimately rotated session
	w = env.do(http.MethodPost, "/api/users/refresh", "", reqOpts{cookies: []*http.Cookie{rotated}})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("rotated token should be revoked after reuse, got %d", w.Code)
	}
}

func TestRefresh_FromBody(t *testing.T) {
	env := newTestEnv(t, false)
	_, cookie := env.register(t, "Jane", "jane@example.com", "secret123")

	w := env.do(http.MethodPost, "/api/users/refresh", `{"refreshToken":"`+cookie.Value+`"}`, reqOpts{})
	if w.Code != http.StatusOK {
		t.Fatalf("got %d body=%s", w.Code, w.Body.String())
	}
}

func TestRefresh_Rejections(t *testing.T) {
	env := newTestEnv(t, false)
	reg, _ := env.register(t, "Jane", "jane@example.com", "secret123")

	w := env.do(http.MethodPost, "/api/users/refresh", "", reqOpts{})
	if w.Code != http.StatusUnauthorized || errorCode(t, w) != "no_refresh" {
		t.Fatalf("missing token: got %d %s", w.Code, w.Body.String())
	}

	// an access token is not a refresh token
	w = env.do(http.MethodPost, "/api/users/refresh", `{"refreshToken":"`+reg.AccessToken+`"}`, reqOpts{})
	if w.Code != http.StatusUnauthorized || errorCode(t, w) != "invalid_refresh" {
		t.Fatalf("access token as refresh: got %d %s", w.Code, w.Body.String())
	}
}

func TestLogout_RevokesAccessAndRefresh(t *testing.T) {
	env := newTestEnv(t, false)
	reg, cookie := env.register(t, "Jane", "jane@example.com", "secret123")

	w := env.do(http.MethodPost, "/api/users/logout", "", reqOpts{token: reg.AccessToken, cookies: []*http.Cookie{cookie}})
	if w.Code != http.StatusNoContent {
		t.Fatalf("logout: got %d body=%s", w.Code, w.Body.String())
	}

	w = env.do(http.MethodGet, "/api/users/profile", "", reqOpts{token: reg.AccessToken})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("revoked access token still accepted: %d", w.Code)
	}

	w = env.do(http.MethodPost, "/api/users/refresh", "", reqOpts{cookies: []*http.Cookie{cookie}})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("refresh after logout: got %d", w.Code)
	}
}

func TestGoogleLogin(t *testing.T) {
	env := newTestEnv(t, true)
	env.google.profileFn = func(_ context.Context, token string) (oauth.Profile, error) {
		switch token {
		case "good":
			return oauth.Profile{Subject: "g-1", Name: "Gina", Email: "gina@example.com", EmailVerified: true}, nil
		case "unverified":
			return oauth.Profile{Subject: "g-2", Name: "Unv", Email: "unv@example.com"}, nil
		}
		return oauth.Profile{}, oauth.ErrInvalidAssertion
	}

	w := env.do(http.MethodPost, "/api/users/google-login", `{"token":"good"}`, reqOpts{})
	if w.Code != http.StatusCreated {
		t.Fatalf("first google login: got %d body=%s", w.Code, w.Body.String())
	}
	first := decodeAuth(t, w)

	w = env.do(http.MethodPost, "/api/users/google-login", `{"token":"good"}`, reqOpts{})
	if w.Code != http.StatusOK || decodeAuth(t, w).User.ID != first.User.ID {
		t.Fatalf("second google login should reuse the account, got %d", w.Code)
	}

	stored, _ := env.users.GetByEmail(context.Background(), "gina@example.com")
	if stored.HasPassword() {
		t.Fatalf("provider accounts must not get a password")
	}

	w = env.do(http.MethodPost, "/api/users/google-login", `{"token":"unverified"}`, reqOpts{})
	if w.Code != http.StatusForbidden || errorCode(t, w) != "email_unverified" {
		t.Fatalf("unverified: got %d %s", w.Code, w.Body.String())
	}

	w = env.do(http.MethodPost, "/api/users/google-login", `{"token":"forged"}`, reqOpts{})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("forged: got %d", w.Code)
	}

	// password login is impossible for the provider account
	w = env.do(http.MethodPost, "/api/users/login", `{"email":"gina@example.com","password":"anything"}`, reqOpts{})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("password login on provider account: got %d", w.Code)
	}
}

func TestGoogleLogin_EmailOwnedByPasswordAccount(t *testing.T) {
	env := newTestEnv(t, true)
	env.register(t, "Jane", "jane@example.com", "secret123")
	env.google.profileFn = func(context.Context, string) (oauth.Profile, error) {
		return oauth.Profile{Subject: "g-9", Name: "Jane", Email: "jane@example.com", EmailVerified: true}, nil
	}

	w := env.do(http.MethodPost, "/api/users/google-login", `{"token":"t"}`, reqOpts{})
	if w.Code != http.StatusConflict || errorCode(t, w) != "email_conflict" {
		t.Fatalf("got %d %s", w.Code, w.Body.String())
	}
}

func TestGoogleLogin_Disabled(t *testing.T) {
	env := newTestEnv(t, false)

	w := env.do(http.MethodPost, "/api/users/google-login", `{"token":"good"}`, reqOpts{})
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("got %d", w.Code)
	}
}

func TestGoogleConsentAndCallback(t *testing.T) {
	env := newTestEnv(t, true)
	env.google.exchangeFn = func(_ context.Context, code string) (oauth.Profile, error) {
		if code != "auth-code" {
			return oauth.Profile{}, oauth.ErrInvalidAssertion
		}
		return oauth.Profile{Subject: "g-7", Name: "Cal", Email: "cal@example.com", EmailVerified: true}, nil
	}

	w := env.do(http.MethodGet, "/auth/google", "", reqOpts{})
	if w.Code != http.StatusFound {
		t.Fatalf("consent: got %d", w.Code)
	}

	var state *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == "oauth_state" {
			state = c
		}
	}
	if state == nil || state.Value == "" {
		t.Fatalf("state cookie not set")
	}

	w = env.do(http.MethodGet, "/auth/google/callback?state=wrong&code=auth-code", "", reqOpts{cookies: []*http.Cookie{state}})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("state mismatch: got %d", w.Code)
	}

	w = env.do(http.MethodGet, "/auth/google/callback?state="+url.QueryEscape(state.Value)+"&code=auth-code", "", reqOpts{cookies: []*http.Cookie{state}})
	if w.Code != http.StatusCreated {
		t.Fatalf("callback: got %d body=%s", w.Code, w.Body.String())
	}
	if decodeAuth(t, w).User.Email != "cal@example.com" {
		t.Fatalf("unexpected user")
	}
}
