// Package classify labels a staged project's framework family. The label is
// descriptive metadata only; it never changes how the build runs and a
// classification failure never fails a request.
package classify

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// ProjectType is the framework family label attached to a build result.
type ProjectType string

const (
	TypeNext    ProjectType = "next"
	TypeReact   ProjectType = "react"
	TypeVue     ProjectType = "vue"
	TypeSvelte  ProjectType = "svelte"
	TypeAstro   ProjectType = "astro"
	TypeNuxt    ProjectType = "nuxt"
	TypeVite    ProjectType = "vite"
	TypeGeneric ProjectType = "generic"
)

// dependencyPriority orders manifest dependency checks. Meta-frameworks win
// over the libraries they wrap, so next beats react and nuxt beats vue.
var dependencyPriority = []struct {
	dep string
	typ ProjectType
}{
	{"next", TypeNext},
	{"nuxt", TypeNuxt},
	{"@sveltejs/kit", TypeSvelte},
	{"react", TypeReact},
	{"vue", TypeVue},
	{"svelte", TypeSvelte},
	{"astro", TypeAstro},
}

// configFilePriority maps well-known root config filenames to a label when
// no manifest is present or readable.
var configFilePriority = []struct {
	names []string
	typ   ProjectType
}{
	{[]string{"next.config.js", "next.config.mjs", "next.config.ts"}, TypeNext},
	{[]string{"nuxt.config.js", "nuxt.config.ts"}, TypeNuxt},
	{[]string{"astro.config.js", "astro.config.mjs", "astro.config.ts"}, TypeAstro},
	{[]string{"svelte.config.js"}, TypeSvelte},
	{[]string{"vite.config.js", "vite.config.mjs", "vite.config.ts"}, TypeVite},
}

type packageManifest struct {
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
}

// Classify inspects the workspace root and returns the framework family.
// All failures degrade to TypeGeneric.
func Classify(dir string) ProjectType {
	if typ, ok := classifyManifest(filepath.Join(dir, "package.json")); ok {
		return typ
	}
	return classifyConfigFiles(dir)
}

func classifyManifest(path string) (ProjectType, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return TypeGeneric, false
	}

	var manifest packageManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return TypeGeneric, false
	}

	for _, entry := range dependencyPriority {
		if _, ok := manifest.Dependencies[entry.dep]; ok {
			return entry.typ, true
		}
		if _, ok := manifest.DevDependencies[entry.dep]; ok {
			return entry.typ, true
		}
	}
	return TypeGeneric, false
}

func classifyConfigFiles(dir string) ProjectType {
	for _, entry := range configFilePriority {
		for _, name := range entry.names {
			if info, err := os.Stat(filepath.Join(dir, name)); err == nil && !info.IsDir() {
				return entry.typ
			}
		}
	}
	return TypeGeneric
}
