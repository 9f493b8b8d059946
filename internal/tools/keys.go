package tools

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// KeyStrategy decides the correlation key of a job and the filename it is
// uploaded under. The service echoes the filename in its result identifiers.
type KeyStrategy string

const (
	// KeyStem uses the source file's stem. Two concurrent jobs for files
	// with the same stem, or where one stem contains the other, collide.
	KeyStem KeyStrategy = "stem"
	// KeyToken appends a random token to the stem and uploads under that name.
	KeyToken KeyStrategy = "token"
)

// ParseKeyStrategy returns the strategy named s.
func ParseKeyStrategy(s string) (KeyStrategy, error) {
	switch KeyStrategy(s) {
	case KeyStem, KeyToken:
		return KeyStrategy(s), nil
	case "":
		return KeyToken, nil
	default:
		return "", fmt.Errorf("unknown correlation key strategy %q", s)
	}
}

// derive returns the correlation key and upload filename for the source
// file at path.
func (s KeyStrategy) derive(path string) (key, filename string) {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	if s == KeyStem {
		return stem, base
	}
	key = stem + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return key, key + ext
}

func fileStem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
