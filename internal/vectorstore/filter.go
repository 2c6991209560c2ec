package vectorstore

import "strings"

// redisTagSpecialChars lists the characters RediSearch's query parser
// treats as syntax inside a TAG filter: ",.<>{}[]\"':;!@#$%^&*()-+=~ and
// space. A userId that happens to contain any of these (hyphens in
// UUIDs, "@" in an email-shaped id, ":" in a composite key) must have
// them escaped with a backslash or it can break out of the tag filter
// and alter the query (spec §4.3.2 point 3).
const redisTagSpecialChars = `,.<>{}[]"':;!@#$%^&*()-+=~ `

// escapeRedisTag backslash-escapes every RediSearch tag-syntax character
// in s so it is safe to interpolate into a `@user_id:{...}` TAG filter.
func escapeRedisTag(s string) string {
	var b strings.Builder
	b.Grow(len(s) * 2)
	for _, r := range s {
		if strings.ContainsRune(redisTagSpecialChars, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
