package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateUser(t *testing.T) {
	u, err := CreateUser("alice@example.com", "s3cret-pw")
	require.NoError(t, err)

	assert.Equal(t, "alice@example.com", u.Email)
	assert.Equal(t, AUTH_PROVIDER_LOCAL, u.AuthProvider)
	assert.Equal(t, SUB_STATUS_NONE, u.SubscriptionStatus)
	assert.False(t, u.IsVerified)
	assert.NotEqual(t, "s3cret-pw", u.Password)
	assert.True(t, u.CheckPassword("s3cret-pw"))
	assert.False(t, u.CheckPassword("wrong"))
}

func TestCreateUserRejectsInvalidInput(t *testing.T) {
	_, err := CreateUser("not-an-email", "s3cret-pw")
	assert.Error(t, err)

	_, err = CreateUser("bob@example.com", "short")
	assert.Error(t, err)
}

func TestSetPassword(t *testing.T) {
	u, err := CreateUser("carol@example.com", "original-pw")
	require.NoError(t, err)

	require.NoError(t, u.SetPassword("replacement-pw"))

	assert.False(t, u.CheckPassword("original-pw"))
	assert.True(t, u.CheckPassword("replacement-pw"))
}

func TestVerificationTokenLifecycle(t *testing.T) {
	u := &User{Email: "dave@example.com"}

	require.NoError(t, u.GenerateVerificationToken())
	require.NotEmpty(t, u.VerificationToken)
	require.NotNil(t, u.VerificationSentAt)

	assert.True(t, u.IsVerificationTokenValid(u.VerificationToken))
	assert.False(t, u.IsVerificationTokenValid("other-token"))

	u.ClearVerificationToken()
	assert.True(t, u.IsVerified)
	assert.Equal(t, "", u.VerificationToken)
	assert.Nil(t, u.VerificationSentAt)
}

func TestVerificationTokenExpires(t *testing.T) {
	u := &User{Email: "erin@example.com"}
	require.NoError(t, u.GenerateVerificationToken())

	expired := time.Now().Add(-VerificationTokenTTL - time.Second)
	u.VerificationSentAt = &expired

	assert.False(t, u.IsVerificationTokenValid(u.VerificationToken))
}

func TestVerificationTokenEmpty(t *testing.T) {
	u := &User{Email: "frank@example.com"}

	assert.False(t, u.IsVerificationTokenValid(""))
	assert.False(t, u.IsVerificationTokenValid("anything"))
}

func TestHasActiveSubscription(t *testing.T) {
	u := &User{SubscriptionStatus: SUB_STATUS_ACTIVE}
	assert.True(t, u.HasActiveSubscription())

	for _, status := range []string{SUB_STATUS_NONE, SUB_STATUS_PENDING, SUB_STATUS_PAST_DUE, SUB_STATUS_CANCELLED, SUB_STATUS_INACTIVE} {
		u.SubscriptionStatus = status
		assert.False(t, u.HasActiveSubscription(), status)
	}
}
