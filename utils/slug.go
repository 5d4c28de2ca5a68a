package utils

import (
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// IDAlphabet is the symbol set for paste IDs: ASCII letters and digits.
const IDAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// DefaultIDLength is the length used when none is configured.
const DefaultIDLength = 7

// GenerateID returns a random paste ID of the given length.
func GenerateID(length int) (string, error) {
	if length < 4 || length > 32 {
		length = DefaultIDLength
	}
	return gonanoid.Generate(IDAlphabet, length)
}

// IsValidID checks if an ID could have been produced by GenerateID.
func IsValidID(id string) bool {
	if len(id) < 4 || len(id) > 32 {
		return false
	}
	for _, char := range id {
		if !strings.ContainsRune(IDAlphabet, char) {
			return false
		}
	}
	return true
}
