package version

import (
	"fmt"

	goversion "github.com/hashicorp/go-version"
)

// will be replaced with the release version when using goreleaser
var version = "1.0.0"

// NotifierVersion returns the version of the notifier binaries
func NotifierVersion() string {
	return version
}

// Parse validates a client version announced in the register frame
func Parse(v string) (*goversion.Version, error) {
	parsed, err := goversion.NewVersion(v)
	if err != nil {
		return nil, fmt.Errorf("invalid version %q: %w", v, err)
	}
	return parsed, nil
}
