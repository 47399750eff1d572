package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenAuthority_RoundTrip(t *testing.T) {
	auth := NewTokenAuthority("test-secret")
	identity := Identity{UserID: "u1", Username: "alice"}

	token, err := auth.Sign(identity)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	got, err := auth.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, identity, got)
}

func TestTokenAuthority_RejectsBadTokens(t *testing.T) {
	auth := NewTokenAuthority("test-secret")
	good, err := auth.Sign(Identity{UserID: "u1", Username: "alice"})
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty", token: ""},
		{name: "garbage", token: "not.a.token"},
		{name: "tampered", token: good + "x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := auth.Verify(tt.token)
			assert.ErrorIs(t, err, errInvalidToken)
		})
	}
}

func TestTokenAuthority_RejectsForeignSecret(t *testing.T) {
	token, err := NewTokenAuthority("secret-a").Sign(Identity{UserID: "u1", Username: "alice"})
	require.NoError(t, err)

	_, err = NewTokenAuthority("secret-b").Verify(token)
	assert.ErrorIs(t, err, errInvalidToken)
}

func TestPasswordHashing(t *testing.T) {
	hash, err := hashPassword("hunter2")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter2", hash)

	assert.True(t, checkPassword(hash, "hunter2"))
	assert.False(t, checkPassword(hash, "hunter3"))
	assert.False(t, checkPassword("not-a-hash", "hunter2"))
}
