package vault

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/voicetree/core/internal/config"
)

// Classification rule priorities.
const (
	PriorityTag      = 1
	PriorityFilename = 2
	PriorityPath     = 3
)

// ClassifiableFile is the minimal information the classifier needs: a
// vault-relative path and the node's frontmatter tags. It deliberately
// avoids depending on graphmodel.GraphNode so classification can run before
// a node's AdditionalYAML is assembled.
type ClassifiableFile struct {
	RelPath string
	Tags    []string
}

// ClassificationRule maps a matcher predicate to a node type string.
type ClassificationRule struct {
	Name     string
	Priority int // lower number = higher priority
	Matcher  func(file ClassifiableFile) bool
	NodeType string
}

// NodeClassifier assigns a node type string to a file based on configured
// rules, evaluated in priority order. The result is stored by the loader
// into GraphNode.UIMetadata.AdditionalYAML["node_type"].
type NodeClassifier struct {
	rules           []ClassificationRule
	nodeTypes       map[string]config.NodeTypeConfig
	defaultNodeType string
}

// NewNodeClassifierFromConfig builds a classifier from the vault config.
func NewNodeClassifierFromConfig(cfg *config.NodeClassificationConfig) (*NodeClassifier, error) {
	rules, err := convertToClassificationRules(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to convert classification rules: %w", err)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].Priority < rules[j].Priority })

	return &NodeClassifier{
		rules:           rules,
		nodeTypes:       cfg.NodeTypes,
		defaultNodeType: cfg.DefaultNodeType,
	}, nil
}

// ClassifyNode returns the first matching rule's node type, or the
// classifier's configured default if nothing matches.
func (nc *NodeClassifier) ClassifyNode(file ClassifiableFile) string {
	if !isValidRelPath(file.RelPath) {
		return nc.defaultNodeType
	}
	for _, rule := range nc.rules {
		if rule.Matcher(file) {
			return rule.NodeType
		}
	}
	return nc.defaultNodeType
}

// GetNodeTypeConfig returns the display configuration for a node type.
func (nc *NodeClassifier) GetNodeTypeConfig(nodeType string) *config.NodeTypeConfig {
	if nc.nodeTypes == nil {
		return nil
	}
	cfg, ok := nc.nodeTypes[nodeType]
	if !ok {
		return nil
	}
	return &cfg
}

func hasTag(file ClassifiableFile, tag string) bool {
	for _, t := range file.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

func isInDirectory(relPath, dirName string) bool {
	if dirName == "" {
		return false
	}
	clean := filepath.Clean(relPath)
	for dir := clean; dir != "." && dir != string(filepath.Separator); {
		if strings.EqualFold(filepath.Base(dir), dirName) {
			return true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return false
}

// isValidRelPath guards against directory traversal or malformed paths
// reaching the classifier.
func isValidRelPath(path string) bool {
	if path == "" || strings.Contains(path, "\\") || strings.HasPrefix(path, "/") {
		return false
	}
	if strings.Contains(filepath.Clean(path), "..") {
		return false
	}
	if strings.Contains(path, "\x00") || len(path) > 500 {
		return false
	}
	return true
}
