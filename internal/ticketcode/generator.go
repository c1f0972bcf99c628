package ticketcode

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/skip2/go-qrcode"
)

// Alphabet excludes I, L, O and U so codes survive being read aloud or typed
// from a printout. 32 symbols over 24 positions gives a 120-bit code space.
const (
	Alphabet   = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"
	CodeLength = 24

	// PayloadVersion prefixes every QR payload so the format can evolve.
	PayloadVersion = "v1"

	// SignatureLength is the hex-character prefix of the HMAC kept in the
	// payload. 64 bits of tag is plenty for a challenge-verify flow where
	// the server holds the full secret.
	SignatureLength = 16
)

var ErrInvalidPayload = errors.New("ticketcode: invalid payload")

// Generator mints ticket codes and their signed QR payloads. The signing
// secret stays server-side; scanners only ever see code+signature.
type Generator struct {
	secret []byte
}

func NewGenerator(secret string) (*Generator, error) {
	if secret == "" {
		return nil, errors.New("ticketcode: signing secret is not configured")
	}
	return &Generator{secret: []byte(secret)}, nil
}

// NewCode draws CodeLength symbols from the restricted alphabet using
// crypto/rand. It fails outright if the random source does; a predictable
// code must never be issued.
func (g *Generator) NewCode() (string, error) {
	buf := make([]byte, CodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("ticketcode: random source failed: %w", err)
	}
	var b strings.Builder
	b.Grow(CodeLength)
	for _, c := range buf {
		// len(Alphabet) divides 256, so the modulo is unbiased.
		b.WriteByte(Alphabet[int(c)%len(Alphabet)])
	}
	return b.String(), nil
}

// Sign computes the truncated hex HMAC-SHA256 tag over a code.
func (g *Generator) Sign(code string) string {
	mac := hmac.New(sha256.New, g.secret)
	mac.Write([]byte(code))
	return hex.EncodeToString(mac.Sum(nil))[:SignatureLength]
}

// Payload composes the versioned scan payload for a code.
func (g *Generator) Payload(code string) string {
	return fmt.Sprintf("%s.%s.%s", PayloadVersion, code, g.Sign(code))
}

// NewSignedCode mints a fresh code together with its payload.
func (g *Generator) NewSignedCode() (code, payload string, err error) {
	code, err = g.NewCode()
	if err != nil {
		return "", "", err
	}
	return code, g.Payload(code), nil
}

// Verify checks a scanned payload against the secret and returns the embedded
// code. The signature comparison is constant-time.
func (g *Generator) Verify(payload string) (string, error) {
	parts := strings.Split(payload, ".")
	if len(parts) != 3 || parts[0] != PayloadVersion {
		return "", ErrInvalidPayload
	}
	code, sig := parts[1], parts[2]
	if len(code) != CodeLength || len(sig) != SignatureLength {
		return "", ErrInvalidPayload
	}
	if !hmac.Equal([]byte(sig), []byte(g.Sign(code))) {
		return "", ErrInvalidPayload
	}
	return code, nil
}

// QRImage renders a payload as a PNG for printing or on-screen display.
func QRImage(payload string) ([]byte, error) {
	return qrcode.Encode(payload, qrcode.Medium, 256)
}
