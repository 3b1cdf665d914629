// Package build carries version metadata injected at link time via
// -ldflags "-X github.com/queuectl/queuectl/pkg/build.Version=...".
package build

var (
	Version = "v0.0.0-dev"
	Commit  = "none"
	Date    = "unknown"
)
