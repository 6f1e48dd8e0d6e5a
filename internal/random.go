package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

type LinkID [16]byte

const (
	linkTokenRawSize = 48
	linkSecretSize   = 32
)

func NewLinkID() (LinkID, error) {
	var lid LinkID
	_, err := rand.Read(lid[:])
	return lid, err
}

func (l LinkID) String() string {
	// base64url, no padding, compact
	return base64.RawURLEncoding.EncodeToString(l[:])
}

func ParseLinkID(linkID string) (LinkID, error) {
	var lid LinkID

	raw, err := base64.RawURLEncoding.DecodeString(linkID)
	if err != nil {
		return lid, err
	}
	if len(raw) != len(lid) {
		return lid, errors.New("invalid link id size")
	}

	copy(lid[:], raw)
	return lid, nil
}

func NewLinkSecret() ([linkSecretSize]byte, error) {
	var secret [linkSecretSize]byte
	_, err := rand.Read(secret[:])
	return secret, err
}

func HashLinkSecret(secret [linkSecretSize]byte) [32]byte {
	return sha256.Sum256(secret[:])
}

func HashLinkBytes(secret []byte) [32]byte {
	return sha256.Sum256(secret)
}

// EncodeLinkToken packs the link id and secret into the opaque token that
// travels inside a verification URL.
func EncodeLinkToken(linkID string, secret [linkSecretSize]byte) (string, error) {
	lid, err := ParseLinkID(linkID)
	if err != nil {
		return "", err
	}

	var raw [linkTokenRawSize]byte
	copy(raw[:len(lid)], lid[:])
	copy(raw[len(lid):], secret[:])

	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

func DecodeLinkToken(token string) (string, [linkSecretSize]byte, error) {
	var secret [linkSecretSize]byte

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", secret, err
	}
	if len(raw) != linkTokenRawSize {
		return "", secret, errors.New("invalid link token size")
	}

	var lid LinkID
	copy(lid[:], raw[:len(lid)])
	copy(secret[:], raw[len(lid):])

	return lid.String(), secret, nil
}

func NewOTP(digits int) (string, error) {
	if digits < 6 || digits > 10 {
		return "", errors.New("invalid otp digits")
	}

	var b strings.Builder
	b.Grow(digits)

	max := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}

	otp := b.String()
	if len(otp) != digits {
		return "", fmt.Errorf("invalid otp generation length")
	}
	return otp, nil
}
