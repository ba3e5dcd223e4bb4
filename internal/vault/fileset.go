package vault

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultDeniedDirectoryNames lists directory names skipped during a scan
// when the caller's configuration doesn't override them.
var DefaultDeniedDirectoryNames = []string{
	"node_modules", "target", "build", "dist", ".cache", ".git", ".obsidian",
}

// scanMarkdownFiles walks root recursively and returns the absolute paths
// of every .md file found, skipping any directory whose name appears in
// deniedDirNames. The result is sorted so callers that want a deterministic
// starting order (diagnostics, tests) can rely on it — the loader itself
// does not depend on this order for correctness.
func scanMarkdownFiles(root string, deniedDirNames []string) ([]string, error) {
	var files []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if path != root && isDeniedDir(info.Name(), deniedDirNames) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(info.Name(), ".md") {
			abs, err := filepath.Abs(path)
			if err != nil {
				return err
			}
			files = append(files, abs)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func isDeniedDir(name string, denied []string) bool {
	for _, d := range denied {
		if name == d {
			return true
		}
	}
	return false
}

// BuildResolver scans every root in vaultPaths and registers its Markdown
// files with a fresh LinkResolver, the same pass the loader runs
// internally. Callers (the sync engine's wiring) that need a resolver
// independent of a particular LoadVault call use this instead of
// duplicating the scan.
func BuildResolver(vaultPaths []string, deniedDirNames []string) (*LinkResolver, error) {
	if len(deniedDirNames) == 0 {
		deniedDirNames = DefaultDeniedDirectoryNames
	}
	resolver := NewLinkResolver()
	for _, root := range vaultPaths {
		paths, err := scanMarkdownFiles(root, deniedDirNames)
		if err != nil {
			return nil, fmt.Errorf("scan vault %q: %w", root, err)
		}
		for _, p := range paths {
			resolver.AddFile(root, p)
		}
	}
	return resolver, nil
}
