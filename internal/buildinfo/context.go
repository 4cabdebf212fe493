// Package buildinfo carries build-time metadata that is not user-configurable.
package buildinfo

import (
	"fmt"
	"runtime"
)

// UnknownValue is reported for metadata that was not injected at build time.
const UnknownValue = "unknown"

// BuildInfo provides access to build-time metadata.
type BuildInfo interface {
	// GetVersion returns the build version string
	GetVersion() string
	// GetBuildDate returns the build date string
	GetBuildDate() string
	// GetCommit returns the source revision
	GetCommit() string
}

// Context contains build-time metadata injected at startup through -ldflags.
type Context struct {
	Version   string
	BuildDate string
	Commit    string
}

// NewContext returns a build context.
func NewContext(version, buildDate, commit string) *Context {
	return &Context{Version: version, BuildDate: buildDate, Commit: commit}
}

func orUnknown(s string) string {
	if s == "" {
		return UnknownValue
	}
	return s
}

// GetVersion implements BuildInfo.GetVersion
func (c *Context) GetVersion() string {
	if c == nil {
		return UnknownValue
	}
	return orUnknown(c.Version)
}

// GetBuildDate implements BuildInfo.GetBuildDate
func (c *Context) GetBuildDate() string {
	if c == nil {
		return UnknownValue
	}
	return orUnknown(c.BuildDate)
}

// GetCommit implements BuildInfo.GetCommit
func (c *Context) GetCommit() string {
	if c == nil {
		return UnknownValue
	}
	return orUnknown(c.Commit)
}

// String renders the one-line version banner.
func (c *Context) String() string {
	return fmt.Sprintf("pneumai %s (commit %s, built %s, %s/%s)",
		c.GetVersion(), c.GetCommit(), c.GetBuildDate(), runtime.GOOS, runtime.GOARCH)
}
