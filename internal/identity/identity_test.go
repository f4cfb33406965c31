package identity

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mintToken(t *testing.T, id int, username string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		ID:       id,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	ss, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return ss
}

func TestSetTokenStripsBearerPrefix(t *testing.T) {
	c := NewContext(nil)

	c.SetToken("Bearer abc.def.ghi")
	assert.Equal(t, "abc.def.ghi", c.Token())

	c.SetToken("bearer xyz")
	assert.Equal(t, "xyz", c.Token())

	c.SetToken("  plain-token  ")
	assert.Equal(t, "plain-token", c.Token())
}

func TestCurrentUserIDPrefersProfile(t *testing.T) {
	c := NewContext(nil)
	c.SetToken(mintToken(t, 7, "alice"))
	c.SetProfile(&Profile{ID: 42, Username: "alice"})

	assert.Equal(t, 42, c.CurrentUserID())
}

func TestCurrentUserIDFallsBackToTokenClaims(t *testing.T) {
	c := NewContext(nil)
	c.SetToken(mintToken(t, 7, "alice"))

	assert.Equal(t, 7, c.CurrentUserID())
}

func TestCurrentUserIDUnknown(t *testing.T) {
	c := NewContext(nil)
	assert.Equal(t, 0, c.CurrentUserID())

	c.SetToken("not-a-jwt")
	assert.Equal(t, 0, c.CurrentUserID())
}

func TestForceLogout(t *testing.T) {
	fired := 0
	c := NewContext(func() { fired++ })
	c.SetToken("tok")
	c.SetProfile(&Profile{ID: 1})

	c.ForceLogout()

	assert.Empty(t, c.Token())
	assert.Nil(t, c.Profile())
	assert.Equal(t, 1, fired)

	// Logging out twice is harmless.
	c.ForceLogout()
	assert.Equal(t, 2, fired)
}

func TestForceLogoutWithoutHook(t *testing.T) {
	c := NewContext(nil)
	c.SetToken("tok")
	assert.NotPanics(t, func() { c.ForceLogout() })
	assert.Empty(t, c.Token())
}
