package paths

import (
	"path"
	"strings"
)

// Device layout
const (
	// AppRoot holds installed application sources
	AppRoot = "/app"

	// Samples holds the bundled sample apps
	Samples = "/app/sample"

	// SystemConf is the system configuration file
	SystemConf = "/etc/system_conf.toml"
)

// Sample returns the device path of a bundled sample app
func Sample(file string) string {
	return path.Join(Samples, file)
}

// IsDevicePath reports whether p names a file on the device filesystem
// rather than a builtin app path like "system/gui_app".
func IsDevicePath(p string) bool {
	return strings.HasPrefix(p, "/")
}
