// Package buildinfo contains build-time metadata kept separate from user
// configuration.
package buildinfo

import "fmt"

// UnknownValue is reported for metadata the build did not provide.
const UnknownValue = "unknown"

// Set at link time:
//
//	go build -ldflags "-X github.com/tphakala/rtcore/internal/buildinfo.version=v1.2.0"
var (
	version   = ""
	buildDate = ""
)

// Context carries build metadata into commands and telemetry.
type Context struct {
	version   string
	buildDate string
}

// NewContext returns a context for the given metadata.
func NewContext(version, buildDate string) *Context {
	return &Context{version: version, buildDate: buildDate}
}

// Current returns the metadata linked into this binary.
func Current() *Context {
	return NewContext(version, buildDate)
}

// Version returns the release version or UnknownValue.
func (c *Context) Version() string {
	if c == nil || c.version == "" {
		return UnknownValue
	}
	return c.version
}

// BuildDate returns the build timestamp or UnknownValue.
func (c *Context) BuildDate() string {
	if c == nil || c.buildDate == "" {
		return UnknownValue
	}
	return c.buildDate
}

// String formats the metadata for version output.
func (c *Context) String() string {
	return fmt.Sprintf("rtcore %s (built %s)", c.Version(), c.BuildDate())
}
