// Package version describes the runner's own version. Environments match on
// the minor version only: micro versions are not reliably reported by every
// install channel.
package version

import (
	"fmt"
	"os/exec"
	"regexp"
	"strings"
)

// Version is the full runner version. Overridden at build time via
// -ldflags "-X .../internal/version.Version=x.y.z".
var Version = "0.1.0"

var versionPattern = regexp.MustCompile(`parcel version (?P<major>[0-9]+)\.(?P<minor>[0-9]+)\.(?P<micro>[0-9]+)`)

// Minor returns the running runner's version truncated to minor precision,
// e.g. "0.1".
func Minor() string {
	return TruncateMinor(Version)
}

// TruncateMinor reduces a full version string to major.minor.
func TruncateMinor(v string) string {
	parts := strings.SplitN(v, ".", 3)
	if len(parts) < 2 {
		return v
	}
	return parts[0] + "." + parts[1]
}

// FromExecutable returns the minor-precision version of the runner at the
// given executable path, probed via a `--version` subprocess.
func FromExecutable(executable string) (string, error) {
	output, err := exec.Command(executable, "--version").Output()
	if err != nil {
		return "", fmt.Errorf("probe %s --version: %w", executable, err)
	}
	return ParseVersionOutput(string(output))
}

// ParseVersionOutput extracts the minor-precision version from `--version`
// output of the form "parcel version 1.2.3".
func ParseVersionOutput(output string) (string, error) {
	match := versionPattern.FindStringSubmatch(output)
	if match == nil {
		return "", fmt.Errorf("failed to parse version output: %q", output)
	}
	return match[1] + "." + match[2], nil
}
