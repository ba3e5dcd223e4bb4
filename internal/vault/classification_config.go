package vault

import (
	"fmt"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/voicetree/core/internal/config"
)

func convertToClassificationRules(cfg *config.NodeClassificationConfig) ([]ClassificationRule, error) {
	if err := validateClassificationConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid classification config: %w", err)
	}

	rules := make([]ClassificationRule, 0, len(cfg.ClassificationRules))
	for _, ruleCfg := range cfg.ClassificationRules {
		if _, exists := cfg.NodeTypes[ruleCfg.NodeType]; !exists {
			return nil, fmt.Errorf("rule '%s' references undefined node type '%s'", ruleCfg.Name, ruleCfg.NodeType)
		}
		matcher, err := createMatcher(ruleCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create matcher for rule '%s': %w", ruleCfg.Name, err)
		}
		rules = append(rules, ClassificationRule{
			Name:     ruleCfg.Name,
			Priority: ruleCfg.Priority,
			Matcher:  matcher,
			NodeType: ruleCfg.NodeType,
		})
	}
	return rules, nil
}

func createMatcher(ruleCfg config.ClassificationRuleConfig) (func(ClassifiableFile) bool, error) {
	switch ruleCfg.Type {
	case "tag":
		return func(f ClassifiableFile) bool { return hasTag(f, ruleCfg.Pattern) }, nil

	case "filename_prefix":
		return func(f ClassifiableFile) bool {
			name := filepath.Base(f.RelPath)
			return strings.HasPrefix(strings.ToLower(name), strings.ToLower(ruleCfg.Pattern))
		}, nil

	case "filename_suffix":
		return func(f ClassifiableFile) bool {
			name := strings.TrimSuffix(filepath.Base(f.RelPath), ".md")
			return strings.HasSuffix(strings.ToLower(name), strings.ToLower(ruleCfg.Pattern))
		}, nil

	case "filename_match":
		return func(f ClassifiableFile) bool {
			return strings.EqualFold(filepath.Base(f.RelPath), ruleCfg.Pattern)
		}, nil

	case "path_contains":
		return func(f ClassifiableFile) bool { return isInDirectory(f.RelPath, ruleCfg.Pattern) }, nil

	case "regex":
		re, err := regexp.Compile("(?i)" + ruleCfg.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid regex pattern '%s': %w", ruleCfg.Pattern, err)
		}
		return func(f ClassifiableFile) bool { return re.MatchString(filepath.Base(f.RelPath)) }, nil

	default:
		return nil, fmt.Errorf("unknown rule type: %s", ruleCfg.Type)
	}
}

func validateClassificationConfig(cfg *config.NodeClassificationConfig) error {
	if len(cfg.NodeTypes) == 0 && len(cfg.ClassificationRules) == 0 {
		return nil
	}

	for name, nt := range cfg.NodeTypes {
		if name == "" {
			return fmt.Errorf("empty node type name")
		}
		if nt.DisplayName == "" {
			return fmt.Errorf("node type '%s' missing display name", name)
		}
		if nt.SizeMultiplier <= 0 {
			return fmt.Errorf("node type '%s' has invalid size multiplier: %f", name, nt.SizeMultiplier)
		}
	}

	names := make(map[string]bool)
	validTypes := []string{"tag", "filename_prefix", "filename_suffix", "filename_match", "path_contains", "regex"}
	for _, rule := range cfg.ClassificationRules {
		if rule.Name == "" {
			return fmt.Errorf("empty rule name")
		}
		if names[rule.Name] {
			return fmt.Errorf("duplicate rule name: %s", rule.Name)
		}
		names[rule.Name] = true

		if rule.Priority < 1 || rule.Priority > 100 {
			return fmt.Errorf("rule '%s' has invalid priority %d (must be 1-100)", rule.Name, rule.Priority)
		}
		if !slices.Contains(validTypes, rule.Type) {
			return fmt.Errorf("rule '%s' has invalid type: %s", rule.Name, rule.Type)
		}
		if rule.Pattern == "" {
			return fmt.Errorf("rule '%s' has empty pattern", rule.Name)
		}
		if rule.Type == "regex" {
			if _, err := regexp.Compile("(?i)" + rule.Pattern); err != nil {
				return fmt.Errorf("rule '%s' has invalid regex pattern: %w", rule.Name, err)
			}
		}
	}
	return nil
}
