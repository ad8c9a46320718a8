package server

import (
	"fmt"
	"strings"

	"github.com/atlas-mc/atlas/backend/internal/packs"
)

// channelETag derives the update-check validator from the pointer state. It is
// a content-derived token, not a hash: collisions across distinct packs are
// fine because tags are never compared cross-pack.
func channelETag(status packs.ChannelStatus) string {
	return fmt.Sprintf("%q", fmt.Sprintf("pack-%s-%s-%s-%s", status.PackID, status.Channel, status.BuildID, status.Version))
}

// whitelistETag derives the whitelist validator from the cache version.
func whitelistETag(version int64) string {
	return fmt.Sprintf("%q", fmt.Sprintf("whitelist-v%d", version))
}

// etagMatches parses an If-None-Match header as a comma-separated validator
// list, strips weak prefixes from both sides, and reports a hit on a wildcard
// or exact match.
func etagMatches(header, etag string) bool {
	if header == "" {
		return false
	}
	target := stripWeakPrefix(etag)
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" {
			return true
		}
		if stripWeakPrefix(candidate) == target {
			return true
		}
	}
	return false
}

func stripWeakPrefix(validator string) string {
	return strings.TrimPrefix(validator, "W/")
}
