// Package workdir resolves the syncdb workspace root, supporting git
// worktree redirection via .syncdb-root files.
package workdir

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

const (
	syncdbRootFile = ".syncdb-root"
	dataDir        = ".syncdb"
)

// ResolveBaseDir resolves the syncdb workspace root with conservative
// heuristics:
//  1. Honor .syncdb-root in the current directory.
//  2. Use current directory if it already has a .syncdb directory.
//  3. If inside git, check git root for .syncdb-root or .syncdb.
//
// If no syncdb markers are found, it returns the original baseDir unchanged.
func ResolveBaseDir(baseDir string) string {
	if baseDir == "" {
		return baseDir
	}
	baseDir = filepath.Clean(baseDir)

	if resolved, ok := readSyncdbRoot(baseDir); ok {
		return resolved
	}
	if hasDataDir(baseDir) {
		return baseDir
	}

	gitRoot, err := gitTopLevel(baseDir)
	if err != nil || gitRoot == "" {
		return baseDir
	}
	gitRoot = filepath.Clean(gitRoot)

	if resolved, ok := readSyncdbRoot(gitRoot); ok {
		return resolved
	}
	if hasDataDir(gitRoot) {
		return gitRoot
	}

	// Check main worktree (handles external worktrees without .syncdb-root)
	mainRoot, err := gitMainWorktree(baseDir)
	if err == nil && mainRoot != "" && mainRoot != gitRoot {
		if resolved, ok := readSyncdbRoot(mainRoot); ok {
			return resolved
		}
		if hasDataDir(mainRoot) {
			return mainRoot
		}
	}

	return baseDir
}

func readSyncdbRoot(dir string) (string, bool) {
	rootPath := filepath.Join(dir, syncdbRootFile)
	content, err := os.ReadFile(rootPath)
	if err != nil {
		return "", false
	}

	resolved := strings.TrimSpace(string(content))
	if resolved == "" {
		return "", false
	}
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(dir, resolved)
	}

	return filepath.Clean(resolved), true
}

func hasDataDir(dir string) bool {
	fi, err := os.Stat(filepath.Join(dir, dataDir))
	return err == nil && fi.IsDir()
}

func gitTopLevel(dir string) (string, error) {
	out, err := exec.Command("git", "-C", dir, "rev-parse", "--show-toplevel").Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// gitMainWorktree returns the root of the main worktree for external git
// worktrees. It returns ("", nil) when dir is already the main worktree.
func gitMainWorktree(dir string) (string, error) {
	out, err := exec.Command("git", "-C", dir, "rev-parse", "--git-common-dir").Output()
	if err != nil {
		return "", err
	}
	commonDir := strings.TrimSpace(string(out))
	if !filepath.IsAbs(commonDir) {
		commonDir = filepath.Join(dir, commonDir)
	}
	commonDir = filepath.Clean(commonDir)

	// The main worktree root is the parent of the common git dir.
	mainRoot := filepath.Dir(commonDir)

	// If the main root equals the current toplevel, we're already there.
	topLevel, err := gitTopLevel(dir)
	if err != nil {
		return "", err
	}
	if filepath.Clean(topLevel) == mainRoot {
		return "", nil
	}

	return mainRoot, nil
}
