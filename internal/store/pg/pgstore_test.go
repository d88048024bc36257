package pg

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"authgate.dev/internal/auth"
)

// passthroughConverter lets non-scalar args like []string (pgx handles them
// as text[]) reach the mock unchanged.
type passthroughConverter struct{}

func (passthroughConverter) ConvertValue(v any) (driver.Value, error) {
	if driver.IsValue(v) {
		return v, nil
	}
	if out, err := driver.DefaultParameterConverter.ConvertValue(v); err == nil {
		return out, nil
	}
	return v, nil
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.ValueConverterOption(passthroughConverter{}))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(db), mock
}

func TestConsumeAuthorizationCodeWinsOnce(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectExec("update auth_codes").
		WithArgs("code-1", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("update auth_codes").
		WithArgs("code-1", now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := store.ConsumeAuthorizationCode(context.Background(), "code-1", now)
	if err != nil || !ok {
		t.Fatalf("first consume: ok=%v err=%v", ok, err)
	}
	ok, err = store.ConsumeAuthorizationCode(context.Background(), "code-1", now)
	if err != nil {
		t.Fatalf("second consume: %v", err)
	}
	if ok {
		t.Fatal("second consume must lose the race")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSessionByRefreshHashFiltersRevokedAndExpired(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery("select id, tenant_id, user_id, client_id, refresh_token_hash").
		WithArgs("hash-1", now).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "tenant_id", "user_id", "client_id", "refresh_token_hash",
			"user_agent", "ip", "expires_at", "revoked_at", "created_at",
		}))

	_, err := store.SessionByRefreshHash(context.Background(), "hash-1", now)
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRotateSessionMissingRow(t *testing.T) {
	store, mock := newMockStore(t)
	expires := time.Now().UTC().Add(time.Hour)

	mock.ExpectExec("update sessions").
		WithArgs("sess-1", "new-hash", expires).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.RotateSession(context.Background(), "sess-1", "new-hash", expires)
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUserByEmailNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("select id, tenant_id, email").
		WithArgs("tenant-demo", "nobody@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.UserByEmail(context.Background(), "tenant-demo", "nobody@example.com")
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestClientScanDecodesRedirectURIs(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{
		"id", "client_id", "tenant_id", "client_secret", "redirect_uris", "scope", "created_at",
	}).AddRow("row-1", "web-app", "tenant-demo", "s3cret",
		[]byte(`["https://app.test/callback","https://app.test/alt"]`),
		"openid profile email", time.Now().UTC())
	mock.ExpectQuery("select id, client_id, tenant_id").
		WithArgs("web-app").
		WillReturnRows(rows)

	client, err := store.ClientByPublicID(context.Background(), "web-app")
	if err != nil {
		t.Fatalf("ClientByPublicID: %v", err)
	}
	if len(client.RedirectURIs) != 2 || client.RedirectURIs[0] != "https://app.test/callback" {
		t.Fatalf("unexpected redirect uris: %v", client.RedirectURIs)
	}
}

func TestRolePermissionKeysGroupsByRole(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"role_id", "action", "resource"}).
		AddRow("role-1", "read", "articles").
		AddRow("role-1", "write", "articles").
		AddRow("role-2", "read", "audit")
	mock.ExpectQuery("select rp.role_id, p.action, p.resource").
		WillReturnRows(rows)

	keys, err := store.RolePermissionKeys(context.Background(), []string{"role-1", "role-2"})
	if err != nil {
		t.Fatalf("RolePermissionKeys: %v", err)
	}
	if len(keys["role-1"]) != 2 || keys["role-1"][1] != "write:articles" {
		t.Fatalf("unexpected keys for role-1: %v", keys["role-1"])
	}
	if len(keys["role-2"]) != 1 || keys["role-2"][0] != "read:audit" {
		t.Fatalf("unexpected keys for role-2: %v", keys["role-2"])
	}
}

func TestRolePermissionKeysEmptyInput(t *testing.T) {
	store, _ := newMockStore(t)
	keys, err := store.RolePermissionKeys(context.Background(), nil)
	if err != nil {
		t.Fatalf("RolePermissionKeys: %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("expected empty map, got %v", keys)
	}
}
