package registry

import (
	"fmt"
	"strings"
)

// ResolveAlias extracts the alias from a message addressed as "@alias rest".
// ok is false when text does not start with '@'. A bare "@" yields an empty
// alias with ok true; registry lookup rejects it.
func ResolveAlias(text string) (alias string, ok bool) {
	if !strings.HasPrefix(text, "@") {
		return "", false
	}
	rest := text[1:]
	if i := strings.IndexByte(rest, ' '); i > 0 {
		return rest[:i], true
	}
	return rest, true
}

// StripMention removes every "@alias" occurrence from text and trims the
// result.
func StripMention(text, alias string) string {
	return strings.TrimSpace(strings.ReplaceAll(text, "@"+alias, ""))
}

// FormatDisplayPrefix renders the attribution line prepended to relayed
// agent messages.
func FormatDisplayPrefix(displayName, text string) string {
	return fmt.Sprintf(`**<\\\\> %s >>**`+"\n%s", displayName, text)
}
