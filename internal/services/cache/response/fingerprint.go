package response

import (
	"fmt"
	"net/url"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint hashes query parameters independent of their order. The values
// of each key are sorted and the query is hashed in its URL encoded form, so
// separators inside keys or values cannot make two queries collide. A key
// without values is the same as a key with one empty value. An empty query
// yields an empty fingerprint.
func Fingerprint(query map[string][]string) string {
	if len(query) == 0 {
		return ""
	}
	canonical := make(url.Values, len(query))
	for key, values := range query {
		sorted := append([]string(nil), values...)
		if len(sorted) == 0 {
			sorted = []string{""}
		}
		sort.Strings(sorted)
		canonical[key] = sorted
	}
	// Encode sorts by key.
	return fmt.Sprintf("%016x", xxhash.Sum64String(canonical.Encode()))
}
