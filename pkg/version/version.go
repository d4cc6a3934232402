package version

import "fmt"

var (
	// Version is set at build time with -ldflags.
	Version = "dev"
	// Hash is the git commit, set at build time with -ldflags.
	Hash = ""
)

// Print returns the version, suffixed with the commit hash when known.
func Print() string {
	if Hash == "" {
		return Version
	}
	return fmt.Sprintf("%s-%s", Version, Hash)
}
