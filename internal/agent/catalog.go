package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Catalog lists and resolves agent definitions.
type Catalog interface {
	List(ctx context.Context) ([]string, error)
	Get(ctx context.Context, name string) (Definition, error)
}

// FileCatalog reads definitions from <dir>/<name>.json.
type FileCatalog struct {
	dir string
}

func NewFileCatalog(dir string) *FileCatalog {
	return &FileCatalog{dir: dir}
}

// List returns the definition names in dir, sorted, without "general". A
// missing directory is an empty catalog.
func (c *FileCatalog) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("agent: read catalog dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".json")
		if name == GeneralName {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Get reads and validates one definition. The definition's name defaults to
// the file name.
func (c *FileCatalog) Get(_ context.Context, name string) (Definition, error) {
	if !validName(name) {
		return Definition{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	data, err := os.ReadFile(filepath.Join(c.dir, name+".json"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Definition{}, fmt.Errorf("%w: %q", ErrNotFound, name)
		}
		return Definition{}, fmt.Errorf("agent: read definition: %w", err)
	}
	return ParseDefinition(name, data)
}

// ParseDefinition decodes a JSON definition and validates it.
func ParseDefinition(name string, data []byte) (Definition, error) {
	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return Definition{}, fmt.Errorf("%w: decode %s: %v", ErrValidation, name, err)
	}
	if def.Name == "" {
		def.Name = name
	}
	if err := def.Validate(); err != nil {
		return Definition{}, err
	}
	return def, nil
}

func validName(name string) bool {
	return name != "" && name != GeneralName && !strings.ContainsAny(name, `/\`) && name != "." && name != ".."
}
