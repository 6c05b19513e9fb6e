package memorystore

import (
	"regexp"
	"strconv"

	"github.com/ampkernel/amp/kernelerr"
)

// DefaultTTL is applied to a mem.write node when no ttl argument is given.
const DefaultTTL = "P90D"

var ttlPattern = regexp.MustCompile(`^P(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)

// ValidateTTL checks ttl against the ISO-8601 duration subset the kernel
// accepts (days/hours/minutes/seconds only, no months or years) and rejects
// a zero-length duration such as "P0D" or "PT0S".
func ValidateTTL(ttl string) error {
	match := ttlPattern.FindStringSubmatch(ttl)
	if match == nil {
		return kernelerr.InvalidTTL("memorystore.ValidateTTL", "", "ttl "+quoted(ttl)+" does not match ISO-8601 duration format")
	}

	total := 0
	for _, group := range match[1:] {
		if group == "" {
			continue
		}
		n, err := strconv.Atoi(group)
		if err != nil {
			return kernelerr.InvalidTTL("memorystore.ValidateTTL", "", "ttl "+quoted(ttl)+" contains an unparseable component")
		}
		total += n
	}

	if total == 0 {
		return kernelerr.InvalidTTL("memorystore.ValidateTTL", "", "ttl "+quoted(ttl)+" is a zero-length duration")
	}
	return nil
}

func quoted(s string) string {
	return "\"" + s + "\""
}
