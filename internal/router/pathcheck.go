package router

import (
	"path"
	"strings"

	"overseer/internal/capability"
)

// pathKeyHints mark argument names whose values are treated as filesystem
// paths regardless of shape.
var pathKeyHints = []string{"path", "file", "dir", "directory", "dest", "destination", "output"}

// validatePaths scans every string argument for path-like values and rejects
// traversal sequences and absolute paths outside the allowed prefixes. It
// runs before any other gate so a hostile argument never reaches a
// capability.
func validatePaths(args capability.Args, allowedPrefixes []string) error {
	for field, raw := range args {
		val, ok := raw.(string)
		if !ok {
			continue
		}
		if !looksLikePath(field, val) {
			continue
		}
		if err := checkPath(field, val, allowedPrefixes); err != nil {
			return err
		}
	}
	return nil
}

func looksLikePath(field, val string) bool {
	lower := strings.ToLower(field)
	for _, hint := range pathKeyHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	// Values with separators are treated as paths even under neutral names.
	return strings.ContainsAny(val, `/\`)
}

func checkPath(field, val string, allowedPrefixes []string) error {
	normalized := strings.ReplaceAll(val, `\`, "/")
	for _, seg := range strings.Split(normalized, "/") {
		if seg == ".." {
			return &PathViolationError{Field: field, Value: val, Why: "traversal sequence"}
		}
	}
	cleaned := path.Clean(normalized)
	if strings.HasPrefix(cleaned, "..") {
		return &PathViolationError{Field: field, Value: val, Why: "escapes working directory"}
	}
	if !path.IsAbs(cleaned) {
		return nil
	}
	for _, prefix := range allowedPrefixes {
		if strings.HasPrefix(cleaned, path.Clean(prefix)) {
			return nil
		}
	}
	return &PathViolationError{Field: field, Value: val, Why: "outside allowed prefixes"}
}
