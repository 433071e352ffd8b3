package util

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestIsValidUUID(t *testing.T) {
	assert.True(t, IsValidUUID(uuid.NewString()))
	assert.False(t, IsValidUUID(""))
	assert.False(t, IsValidUUID("not-a-uuid"))
	assert.False(t, IsValidUUID("ABCD-EFGH"))
}

func TestIsPairingTokenShaped(t *testing.T) {
	token, err := GeneratePairingToken()
	assert.NoError(t, err)

	assert.True(t, IsPairingTokenShaped(token))
	assert.False(t, IsPairingTokenShaped("abcd-efgh"))
	assert.False(t, IsPairingTokenShaped("ABCDEFGH"))
	assert.False(t, IsPairingTokenShaped("https://host/join?code=ABCD-EFGH"))
}
