package attachmentsdomain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const DefaultKeyPrefix = "attachments/"

// ContentHash returns the lowercase hex SHA-256 digest of b. It addresses content,
// it does not authenticate it.
func ContentHash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// ExtensionOf returns filename from its last dot to the end, dot included.
func ExtensionOf(filename string) string {
	idx := strings.LastIndex(filename, ".")
	if idx < 0 {
		return ""
	}
	return filename[idx:]
}

func StorageKey(prefix string, content []byte, filename string) string {
	return prefix + ContentHash(content) + ExtensionOf(filename)
}
