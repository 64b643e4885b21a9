// Package manifest handles oat.toml build configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Manifest represents an oat.toml project configuration: which DEX files to
// embed, the compilation target, and where to write the resulting OAT file.
type Manifest struct {
	Project   Project   `toml:"project"`
	Source    Source    `toml:"source"`
	Target    Target    `toml:"target"`
	BootImage BootImage `toml:"boot-image"`
	Output    Output    `toml:"output"`

	// Dir is the directory containing the oat.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name      string `toml:"name"`
	Namespace string `toml:"namespace"`
	Version   string `toml:"version"`
}

// Source configures the input DEX files to embed, relative to Dir.
type Source struct {
	DexFiles []string `toml:"dex-files"`
}

// Target configures the compilation target.
type Target struct {
	InstructionSet string `toml:"instruction-set"` // arm, arm64, x86, x86_64, mips
	ProxyStubs     bool   `toml:"proxy-stubs"`
}

// BootImage configures an optional boot-image build: the writer back-patches
// a live runtime method registry as it plans offsets.
type BootImage struct {
	Enabled        bool   `toml:"enabled"`
	AnchorChecksum uint32 `toml:"anchor-checksum"`
	AnchorBegin    uint32 `toml:"anchor-begin"`
	Location       string `toml:"location"`
}

// Output configures where the OAT file and its build history land.
type Output struct {
	OatFile     string `toml:"oat-file"`
	BuildLogDB  string `toml:"build-log-db"`
	AuditLogDir string `toml:"audit-log-dir"`
}

// Load parses an oat.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, "oat.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	if m.Output.OatFile == "" {
		m.Output.OatFile = "out.oat"
	}
	if m.Output.BuildLogDB == "" {
		m.Output.BuildLogDB = ".oat/build-log.db"
	}
	if m.Output.AuditLogDir == "" {
		m.Output.AuditLogDir = ".oat/audit"
	}

	return &m, nil
}

// FindAndLoad walks up from startDir to find an oat.toml file, then loads
// and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, "oat.toml")
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// DexFilePaths returns absolute paths for the configured input DEX files.
func (m *Manifest) DexFilePaths() []string {
	var paths []string
	for _, f := range m.Source.DexFiles {
		paths = append(paths, filepath.Join(m.Dir, f))
	}
	return paths
}

// OatFilePath returns the absolute path the OAT file should be written to.
func (m *Manifest) OatFilePath() string {
	return filepath.Join(m.Dir, m.Output.OatFile)
}

// BuildLogDBPath returns the absolute path of the build-history database.
func (m *Manifest) BuildLogDBPath() string {
	return filepath.Join(m.Dir, m.Output.BuildLogDB)
}

// AuditLogDirPath returns the absolute path of the boot-image audit journal
// directory.
func (m *Manifest) AuditLogDirPath() string {
	return filepath.Join(m.Dir, m.Output.AuditLogDir)
}
