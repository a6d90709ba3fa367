// Package ids generates the random 128-bit identifiers used for listener
// telemetry and listener information documents.
package ids

import (
	"encoding/hex"

	googleuuid "github.com/google/uuid"
)

// New returns a freshly generated 128-bit identifier formatted as 32 lowercase
// hex characters. Listener documents use this instead of payload telemetry's
// content address because two listener documents with identical content must
// still end up as distinct documents.
func New() string {
	id := googleuuid.New()
	return hex.EncodeToString(id[:])
}
