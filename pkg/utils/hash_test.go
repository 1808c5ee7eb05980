package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasscodeRoundTrip(t *testing.T) {
	hash, err := HashPasscode("s3cret")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret", hash)

	assert.True(t, CheckPasscode("s3cret", hash))
	assert.False(t, CheckPasscode("wrong", hash))
	assert.False(t, CheckPasscode("", hash))
}
