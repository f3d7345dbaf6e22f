// Package fileset validates and normalizes the file map submitted with a
// build request before anything touches the filesystem.
package fileset

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"
)

// FileSet maps relative file paths to contents. Values are either strings
// (written verbatim) or structured values (serialized to canonical JSON).
type FileSet map[string]any

// ValidationError reports a malformed file set. Nothing has been written
// to disk when this is returned.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid file set: %s", e.Reason)
}

// Limits bounds what a single file set may contain.
type Limits struct {
	MaxFileCount int
	MaxFileBytes int64
}

// Normalize validates the file set against limits and returns the byte
// content for every entry. Structured values are serialized to
// pretty-printed JSON with sorted keys so repeated submissions stage
// byte-identical trees.
func Normalize(fs FileSet, limits Limits) (map[string][]byte, error) {
	if len(fs) == 0 {
		return nil, &ValidationError{Reason: "file set is empty"}
	}
	if limits.MaxFileCount > 0 && len(fs) > limits.MaxFileCount {
		return nil, &ValidationError{Reason: fmt.Sprintf("file count %d exceeds limit %d", len(fs), limits.MaxFileCount)}
	}

	out := make(map[string][]byte, len(fs))
	for p, v := range fs {
		if err := ValidatePath(p); err != nil {
			return nil, err
		}

		var content []byte
		switch val := v.(type) {
		case string:
			content = []byte(val)
		case []byte:
			content = val
		default:
			data, err := json.MarshalIndent(val, "", "  ")
			if err != nil {
				return nil, &ValidationError{Reason: fmt.Sprintf("file %q: unserializable content: %v", p, err)}
			}
			content = data
		}

		if limits.MaxFileBytes > 0 && int64(len(content)) > limits.MaxFileBytes {
			return nil, &ValidationError{Reason: fmt.Sprintf("file %q is %d bytes, exceeds limit %d", p, len(content), limits.MaxFileBytes)}
		}
		out[p] = content
	}

	return out, nil
}

// ValidatePath rejects absolute paths, traversal segments, and anything
// path cleaning would rewrite. Callers must still confine the joined path
// to the workspace root as a second layer.
func ValidatePath(p string) error {
	if p == "" {
		return &ValidationError{Reason: "empty file path"}
	}
	if strings.HasPrefix(p, "/") {
		return &ValidationError{Reason: fmt.Sprintf("absolute path %q not allowed", p)}
	}
	if strings.Contains(p, "\\") {
		return &ValidationError{Reason: fmt.Sprintf("backslash in path %q not allowed", p)}
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return &ValidationError{Reason: fmt.Sprintf("parent-directory segment in path %q not allowed", p)}
		}
	}
	if cleaned := path.Clean(p); cleaned != p {
		return &ValidationError{Reason: fmt.Sprintf("path %q is not in canonical form (want %q)", p, cleaned)}
	}
	return nil
}
