package chat

import (
	"strings"

	"github.com/google/uuid"
)

const identityPrefix = "user_"

// IdentityProvider yields the session identity. It is injected so tests can
// supply deterministic values; production code uses RandomIdentity.
type IdentityProvider func() string

// RandomIdentity generates a fresh session identity: the fixed prefix plus a
// short random suffix. Generated once per client start and immutable after.
func RandomIdentity() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")
	return identityPrefix + suffix[:9]
}
