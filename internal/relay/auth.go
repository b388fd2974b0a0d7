package relay

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

const PasskeySize = 32

// NewPasskey returns a random passkey.
func NewPasskey() ([]byte, error) {
	key := make([]byte, PasskeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("read random passkey: %w", err)
	}
	return key, nil
}

// ParsePasskey decodes a hex passkey.
func ParsePasskey(s string) ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("parse passkey: %w", err)
	}
	if len(key) != PasskeySize {
		return nil, fmt.Errorf("parse passkey: got %d bytes, want %d", len(key), PasskeySize)
	}
	return key, nil
}

// ReadPasskeyFile reads a hex passkey from path.
func ReadPasskeyFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParsePasskey(string(data))
}

// WritePasskeyFile stores key as hex, readable by the owner only.
func WritePasskeyFile(path string, key []byte) error {
	return os.WriteFile(path, []byte(hex.EncodeToString(key)+"\n"), 0o600)
}

// SessionToken is the HMAC-SHA256 of a connection's session material under
// passkey. It is only valid on the connection the material came from.
func SessionToken(passkey, material []byte) [sha256.Size]byte {
	var tok [sha256.Size]byte
	mac := hmac.New(sha256.New, passkey)
	mac.Write(material)
	mac.Sum(tok[:0])
	return tok
}

// CheckSessionToken reports whether tok is SessionToken(passkey, material),
// in constant time.
func CheckSessionToken(passkey, material []byte, tok [sha256.Size]byte) bool {
	want := SessionToken(passkey, material)
	return hmac.Equal(tok[:], want[:])
}
