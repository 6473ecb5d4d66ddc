package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndVerify(t *testing.T) {
	SetSecret("test-secret")

	token, err := GenerateAccessToken(42, 3)
	require.NoError(t, err)

	parsed, err := VerifyJWT(token)
	require.NoError(t, err)

	userID, version, err := GetDataFromToken(parsed)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), userID)
	assert.Equal(t, uint64(3), version)
}

func TestVerifyJWT_WrongSecret(t *testing.T) {
	SetSecret("first")
	token, err := GenerateAccessToken(1, 0)
	require.NoError(t, err)

	SetSecret("second")
	_, err = VerifyJWT(token)
	assert.Error(t, err)
}

func TestVerifyJWT_Expired(t *testing.T) {
	SetSecret("test-secret")
	token, err := generate(1, 0, -time.Minute)
	require.NoError(t, err)

	_, err = VerifyJWT(token)
	assert.Error(t, err)
}
