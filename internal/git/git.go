package git

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

// Change is one entry from `git status --porcelain`.
type Change struct {
	Path   string // relative to the repository root
	Status string // two-letter XY code
}

// Deleted reports whether the file no longer exists in the working tree.
func (c Change) Deleted() bool {
	return strings.Contains(c.Status, "D")
}

// Client defines the git operations used to pick review targets.
type Client interface {
	RepoRoot(path string) (string, error)
	Changes(path string) ([]Change, error)
}

// RealClient implements Client using real git commands.
type RealClient struct{}

// NewClient returns a new RealClient.
func NewClient() *RealClient {
	return &RealClient{}
}

func gitCmd(path string, args ...string) (string, error) {
	fullArgs := append([]string{"-C", path}, args...)
	out, err := exec.Command("git", fullArgs...).Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("git %s: %s", strings.Join(args, " "), strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimRight(string(out), "\n"), nil
}

func (c *RealClient) RepoRoot(path string) (string, error) {
	out, err := gitCmd(path, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Changes lists modified, added, renamed and untracked files.
func (c *RealClient) Changes(path string) ([]Change, error) {
	out, err := gitCmd(path, "status", "--porcelain", "--untracked-files=all")
	if err != nil {
		return nil, err
	}
	return ParseStatusPorcelain(out), nil
}

// ParseStatusPorcelain parses the output of `git status --porcelain` (v1).
// Renames report the new path.
func ParseStatusPorcelain(output string) []Change {
	var changes []Change
	for _, line := range strings.Split(output, "\n") {
		if len(line) < 4 {
			continue
		}
		status, path := line[:2], line[3:]
		if i := strings.Index(path, " -> "); i >= 0 {
			path = path[i+len(" -> "):]
		}
		path = strings.Trim(path, `"`)
		changes = append(changes, Change{Path: path, Status: status})
	}
	return changes
}

// ChangedFiles returns absolute paths of existing changed files under the
// repository containing dir whose base name matches an include pattern.
func ChangedFiles(c Client, dir string, include []string) ([]string, error) {
	root, err := c.RepoRoot(dir)
	if err != nil {
		return nil, err
	}
	changes, err := c.Changes(root)
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, ch := range changes {
		if ch.Deleted() {
			continue
		}
		for _, pattern := range include {
			if ok, _ := filepath.Match(pattern, filepath.Base(ch.Path)); ok {
				paths = append(paths, filepath.Join(root, filepath.FromSlash(ch.Path)))
				break
			}
		}
	}
	return paths, nil
}
