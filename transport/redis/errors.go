package redis

import (
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"
)

// IsOOMError reports a Redis "OOM command not allowed" rejection. These clear
// once TTL keys expire, so callers treat them as transient.
func IsOOMError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "OOM")
}

// IsNil reports a missing key (redis.Nil), unwrapping as needed.
func IsNil(err error) bool {
	return errors.Is(err, redis.Nil)
}
