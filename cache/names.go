package cache

import "fmt"

const (
	DefaultPrefix  = "ttrust"
	DefaultVersion = "v1.1.0"
)

// Names holds the generation-tagged names of the two partitions
// owned by the current version. Every other partition is stale.
type Names struct {
	// Static holds precached resources, navigations and static assets.
	Static string
	// Dynamic holds API and other data responses.
	Dynamic string
}

// NewNames builds the partition names for a prefix and a version,
// e.g. "ttrust-static-v1.1.0" and "ttrust-dynamic-v1.1.0".
func NewNames(prefix, version string) Names {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if version == "" {
		version = DefaultVersion
	}
	return Names{
		Static:  fmt.Sprintf("%s-static-%s", prefix, version),
		Dynamic: fmt.Sprintf("%s-dynamic-%s", prefix, version),
	}
}

// Current returns the names that survive activation.
func (n Names) Current() []string {
	return []string{n.Static, n.Dynamic}
}

// IsCurrent checks if the partition name belongs to the current version.
func (n Names) IsCurrent(name string) bool {
	return name == n.Static || name == n.Dynamic
}
