// Package manifest reads and rewrites Cargo.toml build descriptors.
package manifest

import (
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/Iron-Ham/macroexpand/internal/errors"
)

// FileName is the name of the build descriptor.
const FileName = "Cargo.toml"

// PackageName returns [package].name.
func PackageName(data []byte) (string, error) {
	var doc struct {
		Package struct {
			Name string `toml:"name"`
		} `toml:"package"`
	}
	if err := toml.Unmarshal(data, &doc); err != nil {
		return "", errors.NewDiscoveryError("could not parse crate name from Cargo.toml", err)
	}
	if doc.Package.Name == "" {
		return "", errors.NewDiscoveryError("could not parse crate name from Cargo.toml", errors.ErrNoPackageName)
	}
	return doc.Package.Name, nil
}

// dependencyTables are the tables whose entries may carry a local path.
var dependencyTables = []string{"dependencies", "dev-dependencies", "build-dependencies"}

// targetSections are the per-target sections with a source path.
var targetSections = []string{"lib", "bin", "example", "test", "bench"}

// RewriteLocalPaths returns data with every relative local path made
// absolute under crateDir. Absolute and ~-prefixed paths are left alone, so
// applying it to its own output changes nothing. When no path needs
// rewriting the input is returned unchanged, formatting included.
func RewriteLocalPaths(data []byte, crateDir string) ([]byte, error) {
	var doc map[string]any
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, errors.NewDiscoveryError("could not parse Cargo.toml", err)
	}

	r := rewriter{crateDir: crateDir}

	for _, name := range dependencyTables {
		r.dependencies(doc[name])
	}
	if targets, ok := doc["target"].(map[string]any); ok {
		for _, cfg := range targets {
			if cfg, ok := cfg.(map[string]any); ok {
				for _, name := range dependencyTables {
					r.dependencies(cfg[name])
				}
			}
		}
	}
	if ws, ok := doc["workspace"].(map[string]any); ok {
		r.dependencies(ws["dependencies"])
	}
	if patches, ok := doc["patch"].(map[string]any); ok {
		for _, registry := range patches {
			r.dependencies(registry)
		}
	}
	for _, name := range targetSections {
		switch section := doc[name].(type) {
		case map[string]any:
			r.pathKey(section, "path")
		case []any:
			for _, entry := range section {
				if entry, ok := entry.(map[string]any); ok {
					r.pathKey(entry, "path")
				}
			}
		}
	}
	if pkg, ok := doc["package"].(map[string]any); ok {
		r.pathKey(pkg, "build")
		r.pathKey(pkg, "workspace")
	}

	if r.changed == 0 {
		return data, nil
	}
	out, err := toml.Marshal(doc)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode Cargo.toml")
	}
	return out, nil
}

type rewriter struct {
	crateDir string
	changed  int
}

// dependencies rewrites the path of every table-form entry in a dependency table.
func (r *rewriter) dependencies(table any) {
	deps, ok := table.(map[string]any)
	if !ok {
		return
	}
	for _, spec := range deps {
		if spec, ok := spec.(map[string]any); ok {
			r.pathKey(spec, "path")
		}
	}
}

func (r *rewriter) pathKey(table map[string]any, key string) {
	p, ok := table[key].(string)
	if !ok || !IsRelative(p) {
		return
	}
	table[key] = filepath.Join(r.crateDir, p)
	r.changed++
}

// IsRelative reports whether p would be rewritten: non-empty, not absolute
// and not home-relative.
func IsRelative(p string) bool {
	return p != "" && !filepath.IsAbs(p) && !strings.HasPrefix(p, "/") && !strings.HasPrefix(p, "~")
}
