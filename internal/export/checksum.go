package export

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/fundops/harrier/internal/domain"
	"github.com/gowebpki/jcs"
)

// ChecksumRows computes the audit checksum for one shape's rows:
// each row serialized as RFC 8785 canonical JSON (sorted keys), rows
// sorted by their serialized form, joined with newlines, hashed with
// SHA-256, hex-encoded. The result is independent of computation order.
func ChecksumRows(rows []any) (string, error) {
	canonical := make([]string, 0, len(rows))

	for _, row := range rows {
		raw, err := json.Marshal(row)
		if err != nil {
			return "", fmt.Errorf("failed to serialize export row: %w", err)
		}
		c, err := jcs.Transform(raw)
		if err != nil {
			return "", fmt.Errorf("failed to canonicalize export row: %w", err)
		}
		canonical = append(canonical, string(c))
	}

	sort.Strings(canonical)

	h := sha256.New()
	for i, line := range canonical {
		if i > 0 {
			h.Write([]byte("\n"))
		}
		h.Write([]byte(line))
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// ResultChecksum computes the content hash of a single calculation
// result, excluding the checksum field itself.
func ResultChecksum(res *domain.CalculationResult) (string, error) {
	content := *res
	content.Checksum = ""

	raw, err := json.Marshal(&content)
	if err != nil {
		return "", fmt.Errorf("failed to serialize result %s: %w", res.ID, err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize result %s: %w", res.ID, err)
	}

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Checksums computes the checksum of every shape, keyed by shape name.
func Checksums(shapes *Shapes) (map[string]string, error) {
	sums := make(map[string]string, len(ShapeNames))
	for _, name := range ShapeNames {
		sum, err := ChecksumRows(shapes.Rows(name))
		if err != nil {
			return nil, fmt.Errorf("checksum for shape %s: %w", name, err)
		}
		sums[name] = sum
	}
	return sums, nil
}
