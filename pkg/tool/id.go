package tool

import (
	"strings"

	"github.com/google/uuid"
)

func GenerateUUIDV7() string {
	return uuid.Must(uuid.NewV7()).String()
}

// CacheKey joins parts with ':' for redis keys.
func CacheKey(parts ...string) string {
	return strings.Join(parts, ":")
}
