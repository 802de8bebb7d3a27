package crypt

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testKey = []byte("0123456789abcdef")
	testIV  = []byte("fedcba9876543210")
)

func TestNewCBC(t *testing.T) {
	_, err := NewCBC(testKey, testIV)
	require.NoError(t, err)

	_, err = NewCBC([]byte("short"), testIV)
	assert.Error(t, err)

	_, err = NewCBC(testKey, []byte("short"))
	assert.Error(t, err)
}

func TestEncryptInPlaceLeavesTailClear(t *testing.T) {
	c, err := NewCBC(testKey, testIV)
	require.NoError(t, err)

	plain := bytes.Repeat([]byte{0x5a}, 40)
	buf := append([]byte(nil), plain...)

	c.EncryptInPlace(buf)

	assert.Len(t, buf, 40)
	assert.NotEqual(t, plain[:32], buf[:32])
	assert.Equal(t, plain[32:], buf[32:], "partial block stays in clear")

	block, err := aes.NewCipher(testKey)
	require.NoError(t, err)
	cipher.NewCBCDecrypter(block, testIV).CryptBlocks(buf[:32], buf[:32])
	assert.Equal(t, plain, buf)
}

func TestEncryptInPlaceRestartsChain(t *testing.T) {
	c, err := NewCBC(testKey, testIV)
	require.NoError(t, err)

	a := bytes.Repeat([]byte{1}, 32)
	b := bytes.Repeat([]byte{1}, 32)
	c.EncryptInPlace(a)
	c.EncryptInPlace(b)

	assert.Equal(t, a, b)
}

func TestEncryptInPlaceShortBuffer(t *testing.T) {
	c, err := NewCBC(testKey, testIV)
	require.NoError(t, err)

	buf := []byte{1, 2, 3}
	c.EncryptInPlace(buf)
	assert.Equal(t, []byte{1, 2, 3}, buf)
}
