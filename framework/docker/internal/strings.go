package internal

import (
	"regexp"
	"strings"
)

var validContainerCharsRE = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)

// SanitizeDockerResourceName returns name with any
// invalid characters replaced with underscores.
func SanitizeDockerResourceName(name string) string {
	return validContainerCharsRE.ReplaceAllLiteralString(name, "_")
}

// NormalizeImageRef appends the implicit "latest" tag to refs that carry neither a tag nor a digest.
func NormalizeImageRef(ref string) string {
	if strings.Contains(ref, "@") {
		return ref
	}
	name := ref
	if i := strings.LastIndex(ref, "/"); i >= 0 {
		name = ref[i+1:]
	}
	if strings.Contains(name, ":") {
		return ref
	}
	return ref + ":latest"
}
