// Package auth provides the credential primitives the registry issues to
// callers: opaque publish-API tokens (minted once, hashed at rest) and the
// session cookie lookups layered on top of them. See internal/middleware
// for the request-time guards that consume these primitives.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/forc-lang/forc-registry/internal/db/models"
)

// tokenRandomChars is the number of CSPRNG characters appended to
// models.TokenPrefix when minting a token.
const tokenRandomChars = 32

const tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// maxUnbiasedByte is the largest multiple of len(tokenAlphabet) that fits
// in a byte; random bytes at or above it are rejected so every alphabet
// symbol is exactly equally likely.
const maxUnbiasedByte = 256 / len(tokenAlphabet) * len(tokenAlphabet)

// GenerateToken mints a new publish-token plaintext and its storage hash.
// The plaintext is returned to the caller exactly once; only the hash is
// ever persisted.
func GenerateToken() (plaintext string, hash string, err error) {
	var b strings.Builder
	b.Grow(len(models.TokenPrefix) + tokenRandomChars)
	b.WriteString(models.TokenPrefix)

	buf := make([]byte, tokenRandomChars*2)
	for written := 0; written < tokenRandomChars; {
		if _, err := rand.Read(buf); err != nil {
			return "", "", err
		}
		for _, v := range buf {
			if written == tokenRandomChars {
				break
			}
			if int(v) >= maxUnbiasedByte {
				continue
			}
			b.WriteByte(tokenAlphabet[int(v)%len(tokenAlphabet)])
			written++
		}
	}

	plaintext = b.String()
	return plaintext, HashToken(plaintext), nil
}

// HashToken computes the at-rest representation of a token plaintext. The
// prefix is hashed along with the random part so the hash space is
// independent of bcrypt-style work factors and comparisons are plain
// constant-time-safe equality on the stored hash column via the unique index.
func HashToken(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// ExtractBearerToken extracts the token plaintext from an Authorization
// header. Expected format: "Bearer pub_...".
func ExtractBearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header is empty")
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return "", errors.New("authorization header must start with 'Bearer '")
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", errors.New("bearer token is empty")
	}
	return token, nil
}
