package vault

import (
	"path/filepath"
	"strings"
)

const maxHeadingTitleLength = 100

// deriveTitle implements the title-derivation invariant: a Markdown heading
// wins over the filename, and a YAML "title" frontmatter key — even if
// present — is never consulted here. Callers that want to preserve a
// historical YAML title do so only as opaque round-tripped data.
func deriveTitle(body string, path string) string {
	if heading, ok := firstHeading(body); ok {
		return heading
	}
	return titleFromFilename(path)
}

// firstHeading returns the text of the first "# Heading"-style line in
// body, provided it is short enough to plausibly be a title.
func firstHeading(body string) (string, bool) {
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if !strings.HasPrefix(trimmed, "#") {
			// A heading must be the first non-blank line; anything else
			// means there is no leading heading to derive a title from.
			return "", false
		}
		heading := strings.TrimLeft(trimmed, "#")
		heading = strings.TrimSpace(heading)
		if heading == "" || len(heading) > maxHeadingTitleLength {
			return "", false
		}
		return heading, true
	}
	return "", false
}

// titleFromFilename cleans a file's base name into a human title: strip the
// extension and a "~" hub prefix, replace separators with spaces, and
// title-case each word.
func titleFromFilename(path string) string {
	if path == "" {
		return ""
	}
	base := filepath.Base(path)
	if base == "." {
		return "."
	}

	title := strings.TrimSuffix(base, ".md")
	title = strings.TrimPrefix(title, "~")
	title = strings.ReplaceAll(title, "_", " ")
	title = strings.ReplaceAll(title, "-", " ")

	var result strings.Builder
	inWord := false
	for _, ch := range title {
		switch {
		case ch == ' ':
			result.WriteRune(ch)
			inWord = false
		case !inWord:
			result.WriteString(strings.ToUpper(string(ch)))
			inWord = true
		default:
			result.WriteString(strings.ToLower(string(ch)))
		}
	}
	return result.String()
}
