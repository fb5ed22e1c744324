// Package naming derives deterministic, DNS-label-safe identifiers from
// branch and application names. This is part of the Functional Core - all
// functions are pure with no I/O.
package naming

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// hashSuffixLen is the number of hex characters appended when a name is
// truncated: "-" plus six characters of the content hash.
const hashSuffixLen = 6

// =============================================================================
// Branch Normalization
// =============================================================================

// Normalize maps an arbitrary branch name to an identifier that starts with
// a letter, contains only lowercase alphanumerics and hyphens, has no leading
// or trailing hyphen, and is at most maxLen characters long.
//
// The transformation rules are:
//   - Lowercase the branch name
//   - Replace every character outside [a-z0-9] with a hyphen
//   - Collapse hyphen runs, strip leading/trailing hyphens
//   - Prepend "b-" if the result starts with a digit
//   - If the result exceeds maxLen, keep the first maxLen-7 characters and
//     append "-" plus six hex characters of the sha256 of the original,
//     un-normalized branch name
//
// Hashing the original input means two branches that normalize to the same
// truncated prefix still get distinct suffixes. The function is total: a
// branch with no alphanumerics at all falls back to "b-" plus the hash
// suffix so the result is never empty.
//
// Example:
//
//	Normalize("Feature/ABC", 63)  // returns "feature-abc"
//	Normalize("123-feature", 63)  // returns "b-123-feature"
func Normalize(branch string, maxLen int) string {
	var b strings.Builder
	b.Grow(len(branch))
	for _, r := range strings.ToLower(branch) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('-')
		}
	}

	name := b.String()
	for strings.Contains(name, "--") {
		name = strings.ReplaceAll(name, "--", "-")
	}
	name = strings.Trim(name, "-")

	if name == "" {
		name = "b-" + contentHash(branch)
	}
	if name[0] >= '0' && name[0] <= '9' {
		name = "b-" + name
	}

	if len(name) > maxLen {
		name = truncateWithHash(name, branch, maxLen)
	}
	return name
}

// truncateWithHash bounds name to maxLen, keeping a prefix of the normalized
// form and a hash of the original branch so different over-length branches
// stay distinct.
func truncateWithHash(name, branch string, maxLen int) string {
	keep := maxLen - hashSuffixLen - 1
	if keep < 1 {
		// Degenerate limits leave no room for a hash suffix; plain
		// truncation is the best a bounded result can do.
		return strings.TrimRight(name[:maxLen], "-")
	}
	prefix := strings.TrimRight(name[:keep], "-")
	return prefix + "-" + contentHash(branch)
}

// contentHash returns the first six hex characters of sha256(input).
func contentHash(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])[:hashSuffixLen]
}

// =============================================================================
// Service, Stack, and Image Naming
// =============================================================================

// ServiceName joins the app name with the normalized branch.
// Pattern: {app}-{normalized-branch}
//
// Example:
//
//	ServiceName("demo", "release/v1.2.3", 63) // returns "demo-release-v1-2-3"
func ServiceName(app, branch string, maxLen int) string {
	return fmt.Sprintf("%s-%s", app, Normalize(branch, maxLen))
}

// StackName builds the fully qualified per-branch app stack reference.
// Pattern: {org}/app/{serviceName}
func StackName(org, serviceName string) string {
	return fmt.Sprintf("%s/app/%s", org, serviceName)
}

// SharedStackName builds the shared infrastructure stack reference for a
// cloud. Pattern: {org}/shared/{cloud}
func SharedStackName(org, cloud string) string {
	return fmt.Sprintf("%s/shared/%s", org, cloud)
}

// ImageRef builds the image reference the branch deploys as.
// Pattern: {registry}/{app}:{normalized-branch}
//
// The same (app, branch) pair always produces the same reference, so
// repeated deploys of a branch overwrite one tag instead of accumulating.
func ImageRef(registry, app, branch string, maxLen int) string {
	return fmt.Sprintf("%s/%s:%s", strings.TrimSuffix(registry, "/"), app, Normalize(branch, maxLen))
}
