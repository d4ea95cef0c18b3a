package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBeforeCreateGeneratesIDs(t *testing.T) {
	user := &User{}
	require.NoError(t, user.BeforeCreate(nil))
	require.NotEmpty(t, user.ID)

	post := &Post{}
	require.NoError(t, post.BeforeCreate(nil))
	require.NotEmpty(t, post.ID)
}

func TestBeforeCreateKeepsExistingID(t *testing.T) {
	user := &User{ID: "fixed"}
	require.NoError(t, user.BeforeCreate(nil))
	require.Equal(t, "fixed", user.ID)
}

func TestUserPublicOmitsCredentials(t *testing.T) {
	now := time.Now()
	user := &User{
		ID:          "u1",
		Name:        "John Doe",
		Email:       "john@example.com",
		Password:    "$2a$10$digest",
		LastLoginAt: &now,
		LastLoginIP: "10.0.0.1",
	}

	public := user.Public()
	require.Equal(t, "u1", public.ID)
	require.Equal(t, "John Doe", public.Name)
	require.Equal(t, "john@example.com", public.Email)

	raw, err := json.Marshal(user)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "digest")
	require.NotContains(t, string(raw), "10.0.0.1")

	var nilUser *User
	require.Equal(t, PublicUser{}, nilUser.Public())
}
