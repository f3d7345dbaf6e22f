// Package artifact locates the build tool's output directory inside a
// workspace after a successful build.
package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// NoArtifactError reports a build that exited cleanly but produced none of
// the recognized output directories. A build-configuration problem, not a
// toolchain one.
type NoArtifactError struct {
	Candidates []string
}

func (e *NoArtifactError) Error() string {
	return fmt.Sprintf("no build output found (looked for %s)", strings.Join(e.Candidates, ", "))
}

// DefaultCandidates is the search order for output directories: the common
// dist-style name first, then alternates, then framework defaults. Entries
// may be nested relative paths.
var DefaultCandidates = []string{
	"dist",
	"build",
	"out",
	".output/public",
	"public",
}

// Resolver finds build output using a fixed candidate order.
type Resolver struct {
	candidates []string
}

// NewResolver returns a Resolver using DefaultCandidates.
func NewResolver() *Resolver {
	return &Resolver{candidates: DefaultCandidates}
}

// NewResolverWithCandidates returns a Resolver with a custom search order.
func NewResolverWithCandidates(candidates []string) *Resolver {
	return &Resolver{candidates: candidates}
}

// Resolve returns the first candidate that exists as a directory at the
// workspace root. First match wins; the order is the priority.
func (r *Resolver) Resolve(dir string) (string, error) {
	for _, name := range r.candidates {
		info, err := os.Stat(filepath.Join(dir, filepath.FromSlash(name)))
		if err == nil && info.IsDir() {
			return name, nil
		}
	}
	return "", &NoArtifactError{Candidates: r.candidates}
}
