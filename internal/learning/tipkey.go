package learning

import "strings"

// Length buckets grouping tip effectiveness by word size.
const (
	BucketShort  = "short"  // <= 3 chars
	BucketMedium = "medium"
	BucketLong   = "long" // >= 8 chars
)

// LengthBucket classifies a word by character count.
func LengthBucket(word string) string {
	switch n := len(word); {
	case n <= 3:
		return BucketShort
	case n >= 8:
		return BucketLong
	default:
		return BucketMedium
	}
}

// BuildTipKey produces the stable "<reason-slug>:<length-bucket>" identifier
// used to aggregate tip effectiveness across sessions.
func BuildTipKey(word, reason string) string {
	return reasonSlug(reason) + ":" + LengthBucket(word)
}

func reasonSlug(reason string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(strings.TrimSpace(reason)) {
		isAlnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if isAlnum {
			b.WriteRune(r)
			lastDash = false
		} else if !lastDash {
			b.WriteByte('-')
			lastDash = true
		}
	}
	slug := strings.TrimSuffix(b.String(), "-")
	if slug == "" {
		return "general"
	}
	return slug
}
