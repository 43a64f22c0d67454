// Package crate locates the crate that owns a Rust source file and derives
// the expansion command for it.
package crate

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/Iron-Ham/macroexpand/internal/errors"
	"github.com/Iron-Ham/macroexpand/internal/manifest"
)

// ModuleSeparator joins module path segments.
const ModuleSeparator = "::"

// Target is everything needed to expand one source file.
type Target struct {
	SourcePath  string
	CrateDir    string
	PackageName string
	ModulePath  string
	Command     string
}

// ValidateSource checks that path names an existing Rust source file.
func ValidateSource(path string) error {
	if path == "" {
		return errors.NewValidationError("cannot expand when no active document is available").
			WithCause(errors.ErrNoActiveDocument)
	}
	if filepath.Ext(path) != ".rs" {
		return errors.NewValidationError("macros can only be expanded in Rust (.rs) files").
			WithField("path").WithValue(path).WithCause(errors.ErrNotRustSource)
	}
	info, err := os.Stat(path)
	if err != nil {
		return errors.NewValidationError("source file does not exist").
			WithField("path").WithValue(path).WithCause(err)
	}
	if info.IsDir() {
		return errors.NewValidationError("source path is a directory").
			WithField("path").WithValue(path).WithCause(errors.ErrNotRustSource)
	}
	return nil
}

// FindCrateDir walks upward from the directory of sourcePath and returns the
// first directory containing a Cargo.toml.
func FindCrateDir(sourcePath string) (string, error) {
	abs, err := filepath.Abs(sourcePath)
	if err != nil {
		return "", errors.NewDiscoveryError("invalid source path", err).WithPath(sourcePath)
	}
	dir := filepath.Dir(abs)
	for {
		info, err := os.Stat(filepath.Join(dir, manifest.FileName))
		if err == nil && !info.IsDir() {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.NewDiscoveryError("no Cargo.toml was found in the workspace", errors.ErrNoCrate).
				WithPath(sourcePath)
		}
		dir = parent
	}
}

// ReadPackageName returns the package name declared by crateDir/Cargo.toml.
func ReadPackageName(crateDir string) (string, error) {
	path := filepath.Join(crateDir, manifest.FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return "", errors.NewDiscoveryError("could not read Cargo.toml", err).WithPath(path)
	}
	name, err := manifest.PackageName(data)
	if err != nil {
		var de *errors.DiscoveryError
		if errors.As(err, &de) {
			return "", de.WithPath(path)
		}
		return "", err
	}
	return name, nil
}

// ModulePath derives the module path of sourcePath within the crate rooted
// at crateDir: "src/foo/bar.rs" is "foo::bar", "src/foo/mod.rs" is "foo"
// and the crate roots lib.rs and main.rs are "".
func ModulePath(sourcePath, crateDir string) (string, error) {
	srcDir := filepath.Join(crateDir, "src")
	rel, err := filepath.Rel(srcDir, sourcePath)
	if err != nil || rel == "." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || rel == ".." {
		return "", errors.NewDiscoveryError("source file is not inside the crate's src directory", errors.ErrOutsideSrc).
			WithPath(sourcePath)
	}

	rel = strings.TrimSuffix(rel, ".rs")
	segments := strings.Split(filepath.ToSlash(rel), "/")
	if segments[len(segments)-1] == "mod" {
		segments = segments[:len(segments)-1]
	}
	if len(segments) == 1 && (segments[0] == "lib" || segments[0] == "main") {
		return "", nil
	}
	return strings.Join(segments, ModuleSeparator), nil
}

// BuildCommand joins the tool invocation, its flags and the module path.
// The crate root keeps its trailing space: "cargo expand --silent ".
func BuildCommand(tool, flags, modulePath string) string {
	if flags == "" {
		return tool + " " + modulePath
	}
	return tool + " " + flags + " " + modulePath
}

// Resolve validates sourcePath and derives its expansion Target.
func Resolve(sourcePath, tool, flags string) (Target, error) {
	if err := ValidateSource(sourcePath); err != nil {
		return Target{}, err
	}
	abs, err := filepath.Abs(sourcePath)
	if err != nil {
		return Target{}, errors.NewValidationError("invalid source path").WithValue(sourcePath).WithCause(err)
	}
	crateDir, err := FindCrateDir(abs)
	if err != nil {
		return Target{}, err
	}
	name, err := ReadPackageName(crateDir)
	if err != nil {
		return Target{}, err
	}
	mod, err := ModulePath(abs, crateDir)
	if err != nil {
		return Target{}, err
	}
	return Target{
		SourcePath:  abs,
		CrateDir:    crateDir,
		PackageName: name,
		ModulePath:  mod,
		Command:     BuildCommand(tool, flags, mod),
	}, nil
}
