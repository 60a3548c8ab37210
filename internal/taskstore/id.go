package taskstore

import (
	"crypto/rand"
	"fmt"
	"strconv"
	"strings"

	oaerrors "github.com/openagents/openagents/internal/errors"
)

// idCharset is the alphabet for the random portion of generated task IDs.
const idCharset = "abcdefghijklmnopqrstuvwxyz0123456789"

// idLength is the length of the random suffix in a root task ID.
const idLength = 6

// GenerateTaskID creates a new root task ID of the form prefix-xxxxxx using
// crypto/rand for the suffix.
func GenerateTaskID(prefix string) (string, error) {
	if prefix == "" {
		return "", fmt.Errorf("failed to generate task ID: prefix %w", oaerrors.ErrEmptyValue)
	}

	buf := make([]byte, idLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate task ID: %w", err)
	}
	for i, b := range buf {
		buf[i] = idCharset[int(b)%len(idCharset)]
	}
	return prefix + "-" + string(buf), nil
}

// NextChildID returns the next available child ID under parent, given the IDs
// already in use. Children are numbered from 1: "oa-abc123" -> "oa-abc123.1".
func NextChildID(parent string, existing []string) string {
	maxChild := 0
	childPrefix := parent + "."
	for _, id := range existing {
		rest, ok := strings.CutPrefix(id, childPrefix)
		if !ok || strings.Contains(rest, ".") {
			continue
		}
		n, err := strconv.Atoi(rest)
		if err != nil {
			continue
		}
		if n > maxChild {
			maxChild = n
		}
	}
	return fmt.Sprintf("%s.%d", parent, maxChild+1)
}
