package staging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Manager owns per-site staging directories under a common root.
type Manager struct {
	root string
}

// NewManager ensures the staging root exists and is accessible.
func NewManager(root string) (*Manager, error) {
	if root == "" {
		return nil, fmt.Errorf("staging root cannot be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create staging root: %w", err)
	}
	return &Manager{root: root}, nil
}

// Root returns the staging root directory.
func (m *Manager) Root() string {
	return m.root
}

// Prepare returns the staging directory for a site name, creating it if
// needed. An existing directory for the same name is reused silently;
// concurrent requests for one name share it.
func (m *Manager) Prepare(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("staging identifier cannot be empty")
	}
	dir := filepath.Join(m.root, name)
	if !m.contains(dir) {
		return "", fmt.Errorf("staging identifier escapes staging root")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}
	return dir, nil
}

// Cleanup removes a staging directory tree.
func (m *Manager) Cleanup(path string) error {
	if path == "" {
		return nil
	}
	// Ensure we only remove directories within the configured root.
	if !m.contains(path) {
		return fmt.Errorf("refusing to cleanup path outside staging root")
	}
	return os.RemoveAll(path)
}

func (m *Manager) contains(path string) bool {
	rel, err := filepath.Rel(m.root, path)
	if err != nil || rel == "." || rel == "" {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
