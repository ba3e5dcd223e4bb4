package vault

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/voicetree/core/internal/graphmodel"
)

// recognizedFrontmatter holds the typed fields lifted out of the raw YAML
// map; every other key is preserved verbatim in Raw so a round trip never
// loses data, even for keys the core does not interpret (e.g. a historical
// "title" — see the title-derivation invariant in EncodeNode/deriveTitle).
type recognizedFrontmatter struct {
	Color            *string
	Position         *graphmodel.Position
	IsContextNode    bool
	ContainedNodeIDs []string
	// Tags is lifted out for the node classifier's benefit but also
	// round-tripped verbatim into Raw["tags"] so EncodeFrontmatter emits it
	// back unchanged.
	Tags []string
	Raw  map[string]string
}

var frontmatterRegex = regexp.MustCompile(`(?s)^---\s*\n(.*?)---\s*\n`)

// ExtractFrontmatter splits content into its frontmatter (if any) and the
// remaining body. Unlike the teacher's vault format, no key is required: a
// node with no frontmatter block at all is a valid orphan-shaped node.
func ExtractFrontmatter(content string) (*recognizedFrontmatter, string, error) {
	matches := frontmatterRegex.FindStringSubmatch(content)
	if len(matches) < 2 {
		return &recognizedFrontmatter{Raw: map[string]string{}}, content, nil
	}

	yamlContent := matches[1]
	body := strings.TrimPrefix(content, matches[0])

	var raw map[string]yaml.Node
	if err := yaml.Unmarshal([]byte(yamlContent), &raw); err != nil {
		return nil, "", fmt.Errorf("failed to parse frontmatter YAML: %w", err)
	}

	fm := &recognizedFrontmatter{Raw: map[string]string{}}
	for key, node := range raw {
		n := node
		switch key {
		case "color":
			var v string
			if err := n.Decode(&v); err == nil {
				fm.Color = &v
			}
		case "position":
			var p graphmodel.Position
			if err := n.Decode(&p); err == nil {
				fm.Position = &p
			}
		case "isContextNode":
			_ = n.Decode(&fm.IsContextNode)
		case "containedNodeIds":
			_ = n.Decode(&fm.ContainedNodeIDs)
		case "tags":
			_ = n.Decode(&fm.Tags)
			out, err := yaml.Marshal(&n)
			if err == nil {
				fm.Raw["tags"] = strings.TrimRight(string(out), "\n")
			}
		default:
			// Preserve everything else — including a historical "title" —
			// as an opaque re-marshaled scalar/sequence string.
			out, err := yaml.Marshal(&n)
			if err == nil {
				fm.Raw[key] = strings.TrimRight(string(out), "\n")
			}
		}
	}

	return fm, body, nil
}

// EncodeFrontmatter renders a node's UI metadata back into a YAML block.
// Returns "" if there is nothing to emit.
func EncodeFrontmatter(meta graphmodel.NodeUIMetadata) (string, error) {
	ordered := make(map[string]interface{}, 4+len(meta.AdditionalYAML))
	if meta.Color != nil {
		ordered["color"] = *meta.Color
	}
	if meta.Position != nil {
		ordered["position"] = *meta.Position
	}
	if meta.IsContextNode {
		ordered["isContextNode"] = true
	}
	if len(meta.ContainedNodeIDs) > 0 {
		ordered["containedNodeIds"] = meta.ContainedNodeIDs
	}
	for k, v := range meta.AdditionalYAML {
		ordered[k] = rawYAMLValue(v)
	}

	if len(ordered) == 0 {
		return "", nil
	}

	out, err := yaml.Marshal(ordered)
	if err != nil {
		return "", fmt.Errorf("failed to encode frontmatter: %w", err)
	}
	return "---\n" + string(out) + "---\n", nil
}

// rawYAMLValue lets a preserved opaque string round-trip through
// yaml.Marshal in whatever scalar/sequence shape it originally had, instead
// of being re-quoted as a plain string.
type rawYAMLValue string

func (r rawYAMLValue) MarshalYAML() (interface{}, error) {
	var node yaml.Node
	if err := yaml.Unmarshal([]byte(r), &node); err != nil {
		return string(r), nil
	}
	return &node, nil
}
