package vaultsync

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashBytes(t *testing.T) {
	sum := sha256.Sum256([]byte("hello vault"))
	assert.Equal(t, hex.EncodeToString(sum[:]), hashBytes([]byte("hello vault")))
}

func TestHashBytes_Empty(t *testing.T) {
	sum := sha256.Sum256(nil)
	assert.Equal(t, hex.EncodeToString(sum[:]), hashBytes(nil))
}

func TestHashReader_MatchesHashBytes(t *testing.T) {
	data := []byte("streamed content")

	fromReader, err := hashReader(bytes.NewReader(data))
	require.NoError(t, err)

	assert.Equal(t, hashBytes(data), fromReader)
}
