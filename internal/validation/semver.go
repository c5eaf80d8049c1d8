// semver.go provides semantic version format validation and comparison helpers used when
// publishing or resolving package versions.
package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/hashicorp/go-version"

	"github.com/forc-lang/forc-registry/internal/apierr"
)

// ValidateSemver validates that a version string is valid semantic versioning
func ValidateSemver(versionStr string) error {
	_, err := version.NewVersion(versionStr)
	if err != nil {
		return fmt.Errorf("invalid semantic version: %w", err)
	}
	return nil
}

// fullSemverCore requires all three dot-separated numeric components.
// hashicorp/go-version is deliberately lenient about a missing patch
// component ("1.2" parses successfully), but upload_project must reject
// exactly that case, so the stricter check runs in addition to
// ValidateSemver rather than in place of it.
var fullSemverCore = regexp.MustCompile(`^\d+\.\d+\.\d+(-[0-9A-Za-z.-]+)?(\+[0-9A-Za-z.-]+)?$`)

// NormalizeForcVersion strips an optional leading "v" and validates the
// remainder as a full major.minor.patch semver string. "1.2" and "" are
// rejected; "v1.2.3" normalizes to "1.2.3".
func NormalizeForcVersion(raw string) (string, error) {
	trimmed := strings.TrimPrefix(raw, "v")
	if trimmed == "" || !fullSemverCore.MatchString(trimmed) {
		return "", apierr.New(apierr.KindInvalidForcVersion, 400, fmt.Sprintf("invalid forc version: %q", raw))
	}
	if err := ValidateSemver(trimmed); err != nil {
		return "", apierr.Wrap(apierr.KindInvalidForcVersion, 400, "invalid forc version", err)
	}
	return trimmed, nil
}

// CompareSemver compares two semantic versions
// Returns -1 if v1 < v2, 0 if v1 == v2, 1 if v1 > v2
func CompareSemver(v1Str, v2Str string) (int, error) {
	v1, err := version.NewVersion(v1Str)
	if err != nil {
		return 0, fmt.Errorf("invalid version v1: %w", err)
	}

	v2, err := version.NewVersion(v2Str)
	if err != nil {
		return 0, fmt.Errorf("invalid version v2: %w", err)
	}

	return v1.Compare(v2), nil
}
