package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/json"
	"errors"

	"github.com/dmitrijs2005/declaro/internal/common"
)

// Sealed is a passphrase-protected payload. Byte fields are base64 in JSON.
type Sealed struct {
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

var ErrWrongPassphrase = errors.New("wrong passphrase or corrupted backup")

// Seal encrypts plaintext with AES-256-GCM under a key derived from passphrase.
func Seal(plaintext []byte, passphrase string) (*Sealed, error) {
	salt := common.GenerateRandByteArray(saltLen)
	key := DeriveKey([]byte(passphrase), salt)
	defer common.WipeByteArray(key)

	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := common.GenerateRandByteArray(aesgcm.NonceSize())

	return &Sealed{
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: aesgcm.Seal(nil, nonce, plaintext, nil),
	}, nil
}

// Open reverses Seal.
func Open(s *Sealed, passphrase string) ([]byte, error) {
	key := DeriveKey([]byte(passphrase), s.Salt)
	defer common.WipeByteArray(key)

	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(s.Nonce) != aesgcm.NonceSize() {
		return nil, ErrWrongPassphrase
	}
	plaintext, err := aesgcm.Open(nil, s.Nonce, s.Ciphertext, nil)
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	return plaintext, nil
}

// SealJSON marshals v and seals the result.
func SealJSON(v any, passphrase string) ([]byte, error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s, err := Seal(plaintext, passphrase)
	if err != nil {
		return nil, err
	}
	return json.Marshal(s)
}

// OpenJSON opens a document produced by SealJSON into v.
func OpenJSON(data []byte, passphrase string, v any) error {
	var s Sealed
	if err := json.Unmarshal(data, &s); err != nil {
		return ErrWrongPassphrase
	}
	plaintext, err := Open(&s, passphrase)
	if err != nil {
		return err
	}
	return json.Unmarshal(plaintext, v)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
