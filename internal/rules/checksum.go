package rules

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/fundops/harrier/internal/domain"
	"github.com/gowebpki/jcs"
)

// Checksum computes the content hash pinned into every calculation that
// used the rule. It covers the rule's semantic fields (identity, window,
// schedule, conditions) and excludes the checksum itself and audit
// timestamps, so the hash is stable across storage round-trips.
func Checksum(rule *domain.Rule) (string, error) {
	content := *rule
	content.Checksum = ""
	content.CreatedAt = time.Time{}
	content.UpdatedAt = time.Time{}

	raw, err := content.MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("failed to serialize rule %s: %w", rule.ID, err)
	}

	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize rule %s: %w", rule.ID, err)
	}

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Seal computes and stores the rule's checksum.
func Seal(rule *domain.Rule) error {
	sum, err := Checksum(rule)
	if err != nil {
		return err
	}
	rule.Checksum = sum
	return nil
}
