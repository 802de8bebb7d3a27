// ABOUTME: AES-128-CBC payload encryption for AirTunes audio packets
// ABOUTME: Encrypts whole blocks in place, leaving a trailing partial block in clear
package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// CBC encrypts packet payloads with a fixed session key and IV.
// Every packet starts a fresh chain from the IV.
type CBC struct {
	block cipher.Block
	iv    [aes.BlockSize]byte
}

// NewCBC creates an encrypter from a 16-byte AES key and IV
func NewCBC(key, iv []byte) (*CBC, error) {
	if len(key) != 16 {
		return nil, fmt.Errorf("invalid AES key length: %d (expected 16)", len(key))
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("invalid AES IV length: %d (expected %d)", len(iv), aes.BlockSize)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	c := &CBC{block: block}
	copy(c.iv[:], iv)
	return c, nil
}

// EncryptInPlace encrypts the block-aligned prefix of buf. The length never changes.
func (c *CBC) EncryptInPlace(buf []byte) {
	n := len(buf) - len(buf)%aes.BlockSize
	if n == 0 {
		return
	}

	cipher.NewCBCEncrypter(c.block, c.iv[:]).CryptBlocks(buf[:n], buf[:n])
}
