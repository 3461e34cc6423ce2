package repo

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

// IgnoreFileName holds gitignore-syntax patterns at the repository root.
const IgnoreFileName = ".graftignore"

// IgnoreChecker determines if a path should be ignored.
type IgnoreChecker struct {
	matcher gitignore.Matcher
}

// NewIgnoreChecker creates an IgnoreChecker for the given repository root.
// The control directory is always ignored.
func NewIgnoreChecker(repoRoot string) *IgnoreChecker {
	patterns := []gitignore.Pattern{
		gitignore.ParsePattern(ControlDirName, nil),
		gitignore.ParsePattern(".git", nil),
	}

	f, err := os.Open(filepath.Join(repoRoot, IgnoreFileName))
	if err == nil {
		defer f.Close()
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimRight(scanner.Text(), " \t\r")
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			patterns = append(patterns, gitignore.ParsePattern(line, nil))
		}
	}
	return &IgnoreChecker{matcher: gitignore.NewMatcher(patterns)}
}

// IsIgnored reports whether the slash-separated repo-relative path is
// ignored.
func (ic *IgnoreChecker) IsIgnored(relPath string, isDir bool) bool {
	if relPath == "" || relPath == "." {
		return false
	}
	return ic.matcher.Match(strings.Split(relPath, "/"), isDir)
}
