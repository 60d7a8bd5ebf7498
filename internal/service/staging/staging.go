package staging

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
)

// EntryDocument is the canonical landing page name for a staged site.
const EntryDocument = "index.html"

// ConfigDocument is the deployment config written into every staged site.
const ConfigDocument = "deploy.json"

// Staging failure kinds, surfaced to callers with detail attached.
var (
	ErrDecode  = errors.New("staging: decode upload")
	ErrExtract = errors.New("staging: extract archive")
	ErrWrite   = errors.New("staging: write site files")
)

// Pipeline turns an uploaded bundle into a self-consistent static-site
// directory: decoded, extracted, configured, with an entry document.
type Pipeline struct {
	workspace *Manager
	logger    *slog.Logger
}

// New returns a staging pipeline rooted at the manager's directory.
func New(workspace *Manager, logger *slog.Logger) Pipeline {
	return Pipeline{workspace: workspace, logger: logger}
}

// siteConfig is the deployment config document: one static build rule for
// HTML documents and a catch-all route, tagged with the site name.
type siteConfig struct {
	Name    string      `json:"name"`
	Version int         `json:"version"`
	Builds  []buildRule `json:"builds"`
	Routes  []routeRule `json:"routes"`
}

type buildRule struct {
	Src string `json:"src"`
	Use string `json:"use"`
}

type routeRule struct {
	Src  string `json:"src"`
	Dest string `json:"dest"`
}

// Stage materializes the staging directory for a site. On success the
// returned directory holds the uploaded content, ConfigDocument and
// EntryDocument. On extraction failure partial state is left behind for
// the janitor; the caller receives the directory path either way.
func (p Pipeline) Stage(name, fileName, fileData string) (string, int64, error) {
	raw, err := base64.StdEncoding.DecodeString(fileData)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	dir, err := p.workspace.Prepare(name)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrWrite, err)
	}

	// Uploaded file names are treated as opaque labels, not paths.
	fileName = filepath.Base(fileName)
	target := filepath.Join(dir, fileName)
	if err := os.WriteFile(target, raw, 0o644); err != nil {
		return dir, 0, fmt.Errorf("%w: %v", ErrWrite, err)
	}

	if strings.EqualFold(filepath.Ext(fileName), ".zip") {
		if err := p.extract(raw, dir); err != nil {
			return dir, 0, fmt.Errorf("%w: %v", ErrExtract, err)
		}
		if err := os.Remove(target); err != nil {
			p.logger.Warn("failed to remove uploaded archive", "site", name, "file", fileName, "error", err)
		}
	}

	if err := p.writeConfig(dir, name); err != nil {
		return dir, 0, fmt.Errorf("%w: %v", ErrWrite, err)
	}
	if err := p.ensureEntry(dir, name); err != nil {
		return dir, 0, fmt.Errorf("%w: %v", ErrWrite, err)
	}
	return dir, int64(len(raw)), nil
}

// extract unpacks a zip archive into dir, overwriting existing paths.
// Entries that would escape dir are rejected outright.
func (p Pipeline) extract(raw []byte, dir string) error {
	reader, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return err
	}
	for _, entry := range reader.File {
		dest := filepath.Join(dir, filepath.Clean(entry.Name))
		rel, err := filepath.Rel(dir, dest)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return fmt.Errorf("archive entry %q escapes staging directory", entry.Name)
		}
		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}
		if err := writeZipEntry(entry, dest); err != nil {
			return fmt.Errorf("extract %q: %w", entry.Name, err)
		}
	}
	return nil
}

func writeZipEntry(entry *zip.File, dest string) error {
	src, err := entry.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func (p Pipeline) writeConfig(dir, name string) error {
	cfg := siteConfig{
		Name:    name,
		Version: 2,
		Builds:  []buildRule{{Src: "**/*.html", Use: "static"}},
		Routes:  []routeRule{{Src: "/(.*)", Dest: "/$1"}},
	}
	payload, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, ConfigDocument), append(payload, '\n'), 0o644)
}

// ensureEntry guarantees dir contains an EntryDocument: an existing one
// wins, then the first top-level HTML file is promoted, otherwise a
// minimal page titled after the site is synthesized.
func (p Pipeline) ensureEntry(dir, name string) error {
	entryPath := filepath.Join(dir, EntryDocument)
	if _, err := os.Stat(entryPath); err == nil {
		return nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".html" && ext != ".htm" {
			continue
		}
		return os.Rename(filepath.Join(dir, entry.Name()), entryPath)
	}

	page := fmt.Sprintf("<!DOCTYPE html>\n<html>\n<head><title>%s</title></head>\n<body><h1>%s</h1></body>\n</html>\n", name, name)
	return os.WriteFile(entryPath, []byte(page), 0o644)
}
