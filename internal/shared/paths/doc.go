// Package paths names the fixed locations of the device filesystem.
//
//	/app/
//	  └── sample/        (bundled sample apps)
//	/etc/
//	  └── system_conf.toml
//
// App paths without a leading slash ("system/gui_app", "default/shell")
// name builtin apps and never touch the filesystem.
package paths
