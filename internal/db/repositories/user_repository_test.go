package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/forc-lang/forc-registry/internal/db/models"
)

var errDB = errors.New("db error")

var userCols = []string{"id", "github_id", "login", "full_name", "avatar_url", "email", "is_admin", "created_at"}

func sampleUserRow() *sqlmock.Rows {
	return sqlmock.NewRows(userCols).
		AddRow(int64(1), int64(42), "alice", "Alice", nil, nil, false, time.Now())
}

func emptyUserRow() *sqlmock.Rows {
	return sqlmock.NewRows(userCols)
}

func newUserRepo(t *testing.T) (*UserRepository, *sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	sqlxDB := sqlx.NewDb(db, "postgres")
	return NewUserRepository(sqlxDB), sqlxDB, mock
}

func TestGetByGitHubID_Found(t *testing.T) {
	repo, _, mock := newUserRepo(t)
	mock.ExpectQuery("SELECT.*FROM users.*WHERE github_id").
		WithArgs(int64(42)).
		WillReturnRows(sampleUserRow())

	user, err := repo.GetByGitHubID(context.Background(), 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user == nil {
		t.Fatal("expected user, got nil")
	}
	if user.Login != "alice" {
		t.Errorf("Login = %s, want alice", user.Login)
	}
}

func TestGetByGitHubID_NotFound(t *testing.T) {
	repo, _, mock := newUserRepo(t)
	mock.ExpectQuery("SELECT.*FROM users.*WHERE github_id").
		WithArgs(int64(99)).
		WillReturnRows(emptyUserRow())

	user, err := repo.GetByGitHubID(context.Background(), 99)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user != nil {
		t.Errorf("expected nil user for not found, got %v", user)
	}
}

func TestGetByGitHubID_DBError(t *testing.T) {
	repo, _, mock := newUserRepo(t)
	mock.ExpectQuery("SELECT.*FROM users.*WHERE github_id").
		WithArgs(int64(42)).
		WillReturnError(errDB)

	_, err := repo.GetByGitHubID(context.Background(), 42)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestUpsertFromGitHub_InsertsNew(t *testing.T) {
	repo, db, mock := newUserRepo(t)
	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO users").
		WithArgs(int64(7), "bob", "Bob", nil, nil, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "is_admin", "created_at"}).
			AddRow(int64(5), false, time.Now()))
	mock.ExpectCommit()

	tx, err := db.Beginx()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	user := &models.User{GitHubID: 7, Login: "bob", FullName: "Bob"}
	if err := repo.UpsertFromGitHub(context.Background(), tx, user); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if user.ID != 5 {
		t.Errorf("ID = %d, want 5", user.ID)
	}
}

func TestUpsertFromGitHub_RefreshesExisting(t *testing.T) {
	repo, db, mock := newUserRepo(t)
	created := time.Now().Add(-24 * time.Hour)
	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO users").
		WithArgs(int64(42), "alice2", "Alice Two", nil, nil, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "is_admin", "created_at"}).
			AddRow(int64(1), true, created))
	mock.ExpectCommit()

	tx, err := db.Beginx()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	user := &models.User{GitHubID: 42, Login: "alice2", FullName: "Alice Two"}
	if err := repo.UpsertFromGitHub(context.Background(), tx, user); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if user.ID != 1 {
		t.Errorf("ID = %d, want the existing row's id 1", user.ID)
	}
	if !user.IsAdmin {
		t.Error("stored is_admin flag not carried back")
	}
	if !user.CreatedAt.Equal(created) {
		t.Error("original created_at not carried back")
	}
}
