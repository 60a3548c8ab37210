// Package healer implements the healing subsystem: the policy gate that
// admits failure events, the context builder that snapshots the world, and
// the spell engine that drives repair sequences.
package healer

import (
	"encoding/hex"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/openagents/openagents/internal/constants"
	"github.com/openagents/openagents/internal/domain"
)

// ErrorHash computes the stable idempotency hash of an error payload: the
// whitespace-normalized prefix, bounded to ErrorHashLimit bytes, hashed with
// blake3. Identical failures hash identically across runs.
func ErrorHash(payload string) string {
	normalized := strings.Join(strings.Fields(payload), " ")
	if len(normalized) > constants.ErrorHashLimit {
		normalized = normalized[:constants.ErrorHashLimit]
	}
	sum := blake3.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:16])
}

// HealingKey builds the idempotency ledger key for one healing attempt.
func HealingKey(taskID, subtaskID string, scenario domain.Scenario, errorHash string) string {
	return strings.Join([]string{taskID, subtaskID, string(scenario), errorHash}, "|")
}

// keyPrefix is the healing key minus the error hash, used to count previous
// attempts against the same scope regardless of payload.
func keyPrefix(taskID, subtaskID string, scenario domain.Scenario) string {
	return strings.Join([]string{taskID, subtaskID, string(scenario)}, "|") + "|"
}
