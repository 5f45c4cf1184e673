// Package buildinfo holds build-time metadata injected by main.
package buildinfo

import "runtime"

// Context contains build-time metadata that is not user-configurable.
type Context struct {
	// Version holds the Git version tag from build
	Version string

	// BuildDate is the time when the binary was built
	BuildDate string
}

// GetVersion returns the version or "unknown".
func (c *Context) GetVersion() string {
	if c == nil || c.Version == "" {
		return "unknown"
	}
	return c.Version
}

// GetBuildDate returns the build date or "unknown".
func (c *Context) GetBuildDate() string {
	if c == nil || c.BuildDate == "" {
		return "unknown"
	}
	return c.BuildDate
}

// String formats the metadata for `foodnet --version`.
func (c *Context) String() string {
	return c.GetVersion() + " (built " + c.GetBuildDate() + ", " + runtime.Version() + ")"
}
