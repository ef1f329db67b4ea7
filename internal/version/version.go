// Package version provides version information for dap-engine.
package version

import "fmt"

const (
	// Version is the current version of dap-engine.
	Version = "0.1.0"

	// Name is the product name reported to adapters and clients.
	Name = "dap-engine"
)

// String returns the full name/version string used in banners and in
// the client identification sent to debug adapters.
func String() string {
	return fmt.Sprintf("%s v%s", Name, Version)
}
