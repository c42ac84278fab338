package cryptoengine

import "errors"

var (
	EncryptionErr = errors.New("encryption failed")
	DecryptionErr = errors.New("decryption failed")
)
