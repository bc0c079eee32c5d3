package engine

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/yousef-elgarch1/secureflow/pkg/logging"
)

//go:embed frameworks/*.yaml
var builtinFrameworks embed.FS

// Control is one requirement of a compliance framework
type Control struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Keywords    []string `yaml:"keywords"`
	Guidance    string   `yaml:"guidance"`
}

// Framework is a control catalog such as NIST CSF or ISO/IEC 27001
type Framework struct {
	Name        string    `yaml:"framework"`
	Description string    `yaml:"description"`
	Controls    []Control `yaml:"controls"`
}

// Catalog holds the loaded frameworks
type Catalog struct {
	Frameworks map[string]Framework
}

// NewCatalog creates an empty catalog
func NewCatalog() *Catalog {
	return &Catalog{
		Frameworks: make(map[string]Framework),
	}
}

// DefaultCatalog returns a catalog with the frameworks shipped in the binary.
func DefaultCatalog() (*Catalog, error) {
	c := NewCatalog()
	if err := c.loadFS(builtinFrameworks, "frameworks"); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadDir reads framework YAML files from a directory. A framework with the
// same name as an existing one replaces it.
func (c *Catalog) LoadDir(dir string) error {
	return c.loadFS(os.DirFS(dir), ".")
}

func (c *Catalog) loadFS(fsys fs.FS, dir string) error {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		data, err := fs.ReadFile(fsys, filepath.ToSlash(filepath.Join(dir, entry.Name())))
		if err != nil {
			return err
		}

		var fw Framework
		if err := yaml.Unmarshal(data, &fw); err != nil {
			return fmt.Errorf("failed to parse %s: %w", entry.Name(), err)
		}
		if fw.Name == "" {
			return fmt.Errorf("failed to parse %s: missing framework name", entry.Name())
		}
		c.Frameworks[fw.Name] = fw
		logging.Debugf("Loaded compliance framework: %s (%d controls)", fw.Name, len(fw.Controls))
	}
	return nil
}

// ListFrameworks returns the names of loaded frameworks, sorted
func (c *Catalog) ListFrameworks() []string {
	keys := make([]string, 0, len(c.Frameworks))
	for k := range c.Frameworks {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// GetFramework retrieves a framework by name
func (c *Catalog) GetFramework(name string) (Framework, bool) {
	fw, ok := c.Frameworks[name]
	return fw, ok
}

// Size returns the total number of controls.
func (c *Catalog) Size() int {
	n := 0
	for _, fw := range c.Frameworks {
		n += len(fw.Controls)
	}
	return n
}
