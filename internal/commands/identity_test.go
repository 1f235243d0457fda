package commands

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"studiochat/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	id *models.Identity
}

func (m *memoryStore) SaveIdentity(id models.Identity) error {
	m.id = &id
	return nil
}

func (m *memoryStore) Identity() (models.Identity, error) {
	if m.id == nil {
		return models.Identity{}, models.ErrNotFound
	}
	return *m.id, nil
}

func (m *memoryStore) Clear() error {
	m.id = nil
	return nil
}

type fakeAuthenticator struct {
	id  models.Identity
	err error
}

func (f fakeAuthenticator) Login(ctx context.Context, email, password string) (models.Identity, error) {
	return f.id, f.err
}

func signed(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test"))
	require.NoError(t, err)
	return token
}

func TestLogin_FillsIdentityFromClaims(t *testing.T) {
	token := signed(t, jwt.MapClaims{"id": "u1", "role": "admin"})
	store := &memoryStore{}
	var out bytes.Buffer

	err := Login(context.Background(), &out, fakeAuthenticator{id: models.Identity{Token: token}}, store, "ann@example.com", "pw")
	require.NoError(t, err)
	require.Equal(t, models.Identity{Token: token, UserID: "u1", Role: models.RoleAdmin}, *store.id)
	require.Equal(t, "Logged in as u1 (admin)\n", out.String())
}

func TestLogin_Rejections(t *testing.T) {
	store := &memoryStore{}
	var out bytes.Buffer

	require.Error(t, Login(context.Background(), &out, fakeAuthenticator{}, store, "not-an-email", "pw"))
	require.Error(t, Login(context.Background(), &out, fakeAuthenticator{}, store, "ann@example.com", ""))

	boom := errors.New("bad credentials")
	err := Login(context.Background(), &out, fakeAuthenticator{err: boom}, store, "ann@example.com", "pw")
	require.ErrorIs(t, err, boom)
	require.Nil(t, store.id)
}

func TestLogoutAndWhoAmI(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	token := signed(t, jwt.MapClaims{"id": "u1", "exp": now.Add(time.Hour).Unix()})
	store := &memoryStore{id: &models.Identity{Token: token, UserID: "u1", Role: models.RoleClient}}

	var out bytes.Buffer
	require.NoError(t, WhoAmI(&out, store, now))
	require.Contains(t, out.String(), "User:  u1\n")
	require.Contains(t, out.String(), "Role:  client\n")
	require.Contains(t, out.String(), "Token: valid until 2026-05-01T13:00:00Z\n")

	out.Reset()
	require.NoError(t, WhoAmI(&out, store, now.Add(2*time.Hour)))
	require.Contains(t, out.String(), "Token: token expired")

	out.Reset()
	require.NoError(t, Logout(&out, store))
	require.NoError(t, WhoAmI(&out, store, now))
	require.Equal(t, "Logged out\nNot logged in\n", out.String())
}
