// Package vault implements the Markdown codec, wikilink resolution, node
// classification, and progressive vault loading that turn a directory of
// .md files into a graphmodel.Graph and back.
package vault

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/voicetree/core/internal/graphmodel"
)

// ParseNode decodes raw Markdown content into a GraphNode keyed by absPath.
// Outgoing edges carry the *raw* wikilink target text; resolving them to
// sibling node ids is the Loader/LinkResolver's job, because resolution
// needs visibility into the whole vault that a single-file parse doesn't
// have.
// ParseNode decodes content into a GraphNode, plus the frontmatter tags
// (if any) for the node classifier's use — tags are also preserved
// verbatim in the node's AdditionalYAML, so this is a convenience, not the
// only place they are recorded.
func ParseNode(absPath string, content string) (graphmodel.GraphNode, []string, error) {
	fm, body, err := ExtractFrontmatter(content)
	if err != nil {
		return graphmodel.GraphNode{}, nil, fmt.Errorf("parse frontmatter: %w", err)
	}

	placeholderBody, links := replaceWikiLinksWithPlaceholders(body)
	title := deriveTitle(body, absPath)

	node := graphmodel.GraphNode{
		ID:                        absPath,
		ContentWithoutYamlOrLinks: placeholderBody,
		OutgoingEdges:             linksToEdges(links),
		UIMetadata: graphmodel.NodeUIMetadata{
			Title:            title,
			Color:            fm.Color,
			Position:         fm.Position,
			IsContextNode:    fm.IsContextNode,
			ContainedNodeIDs: fm.ContainedNodeIDs,
			AdditionalYAML:   fm.Raw,
		},
	}
	return node, fm.Tags, nil
}

// linksToEdges deduplicates wikilinks by target, keeping the first
// non-empty label seen, in order of first occurrence.
func linksToEdges(links []WikiLink) []graphmodel.Edge {
	var edges []graphmodel.Edge
	indexOf := make(map[string]int, len(links))
	for _, l := range links {
		if l.Target == "" {
			continue
		}
		label := ""
		if l.DisplayText != "" && l.DisplayText != l.Target {
			label = l.DisplayText
		}
		if idx, ok := indexOf[l.Target]; ok {
			if edges[idx].Label == "" {
				edges[idx].Label = label
			}
			continue
		}
		indexOf[l.Target] = len(edges)
		edges = append(edges, graphmodel.Edge{TargetID: l.Target, Label: label})
	}
	return edges
}

// ReplaceBody re-derives a node's body and outgoing edges from newBody,
// leaving every other field of node untouched. This is the codec's half of
// a content-change intent: the caller still owns resolving the returned
// node's edges against a LinkResolver before committing it to the graph.
func ReplaceBody(node graphmodel.GraphNode, newBody string) graphmodel.GraphNode {
	placeholderBody, links := replaceWikiLinksWithPlaceholders(newBody)
	out := node.Clone()
	out.ContentWithoutYamlOrLinks = placeholderBody
	out.OutgoingEdges = linksToEdges(links)
	return out
}

// EncodeNode serializes a GraphNode back to canonical Markdown. Every edge
// not already represented by a placeholder-restored wikilink in the body is
// appended on its own line; this is the step that prevents the link
// duplication feedback loop described in the design notes.
func EncodeNode(node graphmodel.GraphNode) (string, error) {
	frontmatter, err := EncodeFrontmatter(node.UIMetadata)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	out.WriteString(frontmatter)
	out.WriteString(RenderBody(node))
	if out.Len() > 0 {
		out.WriteString("\n")
	}
	return out.String(), nil
}

// RenderBody restores node's body to display form (wikilinks back in place
// of placeholders, with any edge that has no corresponding wikilink in the
// body appended on its own line) without the YAML frontmatter block. This
// is what an open editor should show, as distinct from EncodeNode's full
// on-disk file contents.
func RenderBody(node graphmodel.GraphNode) string {
	body := restorePlaceholders(node.ContentWithoutYamlOrLinks)

	var appended strings.Builder
	for _, edge := range node.OutgoingEdges {
		display := displayTargetFor(edge.TargetID)
		if bodyReferencesTarget(body, display) || bodyReferencesTarget(appended.String(), display) {
			continue
		}
		appended.WriteString("\n\n[[")
		appended.WriteString(display)
		if edge.Label != "" && edge.Label != display {
			appended.WriteString("|")
			appended.WriteString(edge.Label)
		}
		appended.WriteString("]]")
	}

	return body + appended.String()
}

// displayTargetFor renders an edge's target id as wikilink text: a resolved
// node id (an absolute path) becomes its basename without extension; a
// dangling target is emitted verbatim since it was never resolved to a path
// in the first place.
func displayTargetFor(targetID string) string {
	if filepath.IsAbs(targetID) {
		return strings.TrimSuffix(filepath.Base(targetID), ".md")
	}
	return targetID
}
