package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/forc-lang/forc-registry/internal/auth"
	"github.com/forc-lang/forc-registry/internal/db/repositories"
)

func newGuardDeps(t *testing.T) (*repositories.SessionRepository, *repositories.TokenRepository, *repositories.UserRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	sqlxDB := sqlx.NewDb(db, "postgres")
	return repositories.NewSessionRepository(sqlxDB),
		repositories.NewTokenRepository(sqlxDB),
		repositories.NewUserRepository(sqlxDB),
		mock
}

func runGuard(guard gin.HandlerFunc, req *http.Request) (*httptest.ResponseRecorder, *AuthContext) {
	w := httptest.NewRecorder()
	router := gin.New()

	var captured *AuthContext
	router.GET("/protected", guard, func(c *gin.Context) {
		captured = GetAuthContext(c)
		c.JSON(http.StatusOK, gin.H{})
	})

	router.ServeHTTP(w, req)
	return w, captured
}

func userRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "github_id", "login", "full_name", "avatar_url", "email", "is_admin", "created_at"}).
		AddRow(int64(7), int64(1001), "alice", "Alice", nil, nil, false, time.Now())
}

func TestSessionGuard_MissingCookie(t *testing.T) {
	sessionRepo, _, userRepo, _ := newGuardDeps(t)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	w, _ := runGuard(SessionGuard(sessionRepo, userRepo), req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestSessionGuard_MalformedCookie(t *testing.T) {
	sessionRepo, _, userRepo, _ := newGuardDeps(t)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "not-a-uuid"})
	w, _ := runGuard(SessionGuard(sessionRepo, userRepo), req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestSessionGuard_UnknownSession(t *testing.T) {
	sessionRepo, _, userRepo, mock := newGuardDeps(t)
	id := uuid.New().String()
	mock.ExpectQuery("SELECT.*FROM sessions").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "expires_at", "created_at"}))

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: id})
	w, _ := runGuard(SessionGuard(sessionRepo, userRepo), req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestSessionGuard_ExpiredSession(t *testing.T) {
	sessionRepo, _, userRepo, mock := newGuardDeps(t)
	id := uuid.New().String()
	rows := sqlmock.NewRows([]string{"id", "user_id", "expires_at", "created_at"}).
		AddRow(id, int64(7), time.Now().Add(-time.Hour), time.Now().Add(-2*time.Hour))
	mock.ExpectQuery("SELECT.*FROM sessions").WithArgs(id).WillReturnRows(rows)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: id})
	w, _ := runGuard(SessionGuard(sessionRepo, userRepo), req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestSessionGuard_Valid(t *testing.T) {
	sessionRepo, _, userRepo, mock := newGuardDeps(t)
	id := uuid.New().String()
	sessionRows := sqlmock.NewRows([]string{"id", "user_id", "expires_at", "created_at"}).
		AddRow(id, int64(7), time.Now().Add(time.Hour), time.Now())
	mock.ExpectQuery("SELECT.*FROM sessions").WithArgs(id).WillReturnRows(sessionRows)
	mock.ExpectQuery("SELECT.*FROM users").WithArgs(int64(7)).WillReturnRows(userRows())

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: id})
	w, ac := runGuard(SessionGuard(sessionRepo, userRepo), req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if ac == nil || ac.Kind != AuthKindSession || ac.User == nil || ac.User.Login != "alice" {
		t.Fatalf("unexpected auth context: %+v", ac)
	}
	if ac.Session == nil || ac.Session.ID != id {
		t.Errorf("session not carried through: %+v", ac.Session)
	}
}

func TestTokenGuard_MissingHeader(t *testing.T) {
	_, tokenRepo, userRepo, _ := newGuardDeps(t)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	w, _ := runGuard(TokenGuard(tokenRepo, userRepo), req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestTokenGuard_UnknownToken(t *testing.T) {
	_, tokenRepo, userRepo, mock := newGuardDeps(t)
	plaintext := "pub_abcdefghijklmnopqrstuvwxyzABCDEF"
	mock.ExpectQuery("SELECT.*FROM api_tokens").
		WithArgs(auth.HashToken(plaintext)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "friendly_name", "token_hash", "expires_at", "created_at"}))

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+plaintext)
	w, _ := runGuard(TokenGuard(tokenRepo, userRepo), req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestTokenGuard_ExpiredToken(t *testing.T) {
	_, tokenRepo, userRepo, mock := newGuardDeps(t)
	plaintext := "pub_abcdefghijklmnopqrstuvwxyzABCDEF"
	hash := auth.HashToken(plaintext)
	rows := sqlmock.NewRows([]string{"id", "user_id", "friendly_name", "token_hash", "expires_at", "created_at"}).
		AddRow(int64(3), int64(7), "ci", hash, time.Now().Add(-time.Minute), time.Now().Add(-time.Hour))
	mock.ExpectQuery("SELECT.*FROM api_tokens").WithArgs(hash).WillReturnRows(rows)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+plaintext)
	w, _ := runGuard(TokenGuard(tokenRepo, userRepo), req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestTokenGuard_Valid(t *testing.T) {
	_, tokenRepo, userRepo, mock := newGuardDeps(t)
	plaintext := "pub_abcdefghijklmnopqrstuvwxyzABCDEF"
	hash := auth.HashToken(plaintext)
	rows := sqlmock.NewRows([]string{"id", "user_id", "friendly_name", "token_hash", "expires_at", "created_at"}).
		AddRow(int64(3), int64(7), "ci", hash, nil, time.Now())
	mock.ExpectQuery("SELECT.*FROM api_tokens").WithArgs(hash).WillReturnRows(rows)
	mock.ExpectQuery("SELECT.*FROM users").WithArgs(int64(7)).WillReturnRows(userRows())

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+plaintext)
	w, ac := runGuard(TokenGuard(tokenRepo, userRepo), req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if ac == nil || ac.Kind != AuthKindToken || ac.Token == nil || ac.Token.FriendlyName != "ci" {
		t.Fatalf("unexpected auth context: %+v", ac)
	}
}
