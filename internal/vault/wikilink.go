package vault

import (
	"regexp"
	"strings"
)

// WikiLink is a single [[target]] occurrence extracted from a node body.
type WikiLink struct {
	Raw         string // complete link text with brackets
	Target      string // target note name, unresolved
	DisplayText string // alias text if present, else Target
	Section     string // heading/section if present
	LinkType    string // "wikilink" or "embed"
	Position    int    // byte offset of Raw within the source content
}

var (
	// Matches [[Target]], [[Target|Alias]], ![[Embed]], etc.
	wikiLinkRegex = regexp.MustCompile(`(!?)\[\[(.+?)\]\]`)

	// Splits link content: target#section|alias
	linkPartsRegex = regexp.MustCompile(`^([^#\|]*)(#[^|]+)?(\|(.+))?$`)

	// Matches the placeholder a wikilink is rewritten to in a node's body.
	placeholderRegex = regexp.MustCompile(`\[([^\[\]]*)\]\*`)
)

// ExtractWikiLinks finds all WikiLinks in content, in order of appearance.
func ExtractWikiLinks(content string) []WikiLink {
	matches := wikiLinkRegex.FindAllStringSubmatchIndex(content, -1)
	links := make([]WikiLink, 0, len(matches))
	for _, match := range matches {
		if len(match) < 6 {
			continue
		}
		raw := content[match[0]:match[1]]
		isEmbed := match[2] != match[3]
		inner := content[match[4]:match[5]]
		links = append(links, parseWikiLink(raw, inner, isEmbed, match[0]))
	}
	return links
}

// replaceWikiLinksWithPlaceholders rewrites every [[...]] occurrence in
// content to a `[inner]*` placeholder holding the link's trimmed inner text
// (target plus any #section and |alias), returning the rewritten body
// plus the links extracted in order of first occurrence. Decoupling the
// body from resolved edge targets lets the two be edited independently, per
// the markdown codec's contract.
func replaceWikiLinksWithPlaceholders(content string) (string, []WikiLink) {
	matches := wikiLinkRegex.FindAllStringSubmatchIndex(content, -1)
	if len(matches) == 0 {
		return content, nil
	}

	var sb strings.Builder
	links := make([]WikiLink, 0, len(matches))
	last := 0
	for _, match := range matches {
		raw := content[match[0]:match[1]]
		isEmbed := match[2] != match[3]
		inner := content[match[4]:match[5]]
		link := parseWikiLink(raw, inner, isEmbed, match[0])
		links = append(links, link)

		sb.WriteString(content[last:match[0]])
		sb.WriteString("[" + strings.TrimSpace(inner) + "]*")
		last = match[1]
	}
	sb.WriteString(content[last:])
	return sb.String(), links
}

// restorePlaceholders converts every `[X]*` placeholder back to `[[X]]`.
// It requires no knowledge of the node's resolved edges: a placeholder's
// bracketed text already holds the link's original inner text.
func restorePlaceholders(body string) string {
	return placeholderRegex.ReplaceAllString(body, "[[$1]]")
}

// bodyReferencesTarget reports whether body already contains a wikilink
// referencing displayTarget, used by the encoder to avoid appending a
// duplicate link for an edge already represented in the body text.
func bodyReferencesTarget(body, displayTarget string) bool {
	if displayTarget == "" {
		return false
	}
	for _, link := range ExtractWikiLinks(body) {
		if link.Target == displayTarget {
			return true
		}
	}
	return false
}

// parseWikiLink parses the inner content of a WikiLink.
func parseWikiLink(raw, innerContent string, isEmbed bool, position int) WikiLink {
	link := WikiLink{Raw: raw, Position: position}
	if isEmbed {
		link.LinkType = "embed"
	} else {
		link.LinkType = "wikilink"
	}

	if innerContent == "" || innerContent == "|" {
		return link
	}

	innerContent = strings.TrimSpace(innerContent)

	if strings.HasPrefix(innerContent, "#") {
		link.Section = strings.TrimPrefix(innerContent, "#")
		link.DisplayText = innerContent
		return link
	}

	parts := linkPartsRegex.FindStringSubmatch(innerContent)
	if len(parts) > 1 {
		link.Target = strings.TrimSpace(parts[1])
		if len(parts) > 2 && parts[2] != "" {
			link.Section = strings.TrimPrefix(parts[2], "#")
		}
		if len(parts) > 4 && parts[4] != "" {
			link.DisplayText = strings.TrimSpace(parts[4])
		}
	} else {
		link.Target = innerContent
	}

	if link.DisplayText == "" {
		if link.Section != "" {
			link.DisplayText = link.Target + "#" + link.Section
		} else {
			link.DisplayText = link.Target
		}
	}

	return link
}

// NormalizeTarget lowercases and trims a link target for fuzzy matching.
func NormalizeTarget(target string) string {
	return strings.ToLower(strings.TrimSpace(target))
}
