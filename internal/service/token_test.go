package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/freight-escrow/internal/domain/valueobject"
)

func TestTokenManager_RoundTrip(t *testing.T) {
	m := NewTokenManager("test-secret", time.Hour)
	userID := uuid.New()

	token, exp, err := m.GenerateAccess(userID, valueobject.RoleTransporter)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, time.Minute)

	gotID, role, err := m.ParseAccess(token)
	require.NoError(t, err)
	assert.Equal(t, userID, gotID)
	assert.Equal(t, valueobject.RoleTransporter, role)
}

func TestTokenManager_RejectsForeignSecretAndExpired(t *testing.T) {
	issuer := NewTokenManager("secret-a", time.Hour)
	token, _, err := issuer.GenerateAccess(uuid.New(), valueobject.RoleShipper)
	require.NoError(t, err)

	_, _, err = NewTokenManager("secret-b", time.Hour).ParseAccess(token)
	assert.Error(t, err)

	issuer.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, _, err := issuer.GenerateAccess(uuid.New(), valueobject.RoleShipper)
	require.NoError(t, err)
	_, _, err = NewTokenManager("secret-a", time.Hour).ParseAccess(old)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestTokenManager_SystemRoleNotIssued(t *testing.T) {
	m := NewTokenManager("s", time.Hour)

	_, _, err := m.GenerateAccess(uuid.New(), valueobject.RoleSystem)
	assert.Error(t, err)
}
