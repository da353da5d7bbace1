package utils

import (
	"crypto/rand"
	"fmt"

	"github.com/gosimple/slug"
)

// Alphabet for code suffixes: uppercase base32 without 0/O/1/I lookalikes,
// since recipients type these from texts and emails.
const codeAlphabet = "23456789ABCDEFGHJKMNPQRSTVWXYZ"

const codeSuffixLen = 5

// ShareCode builds a human-shareable pass code like "jane-doe-7F3K2":
// a slug of the referrer's display name plus a random suffix. Global
// uniqueness is enforced by the DB index; callers retry on collision.
func ShareCode(displayName string) (string, error) {
	prefix := slug.Make(displayName)
	if prefix == "" {
		prefix = "scout"
	}

	buf := make([]byte, codeSuffixLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate code suffix: %w", err)
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}

	return prefix + "-" + string(buf), nil
}
