// Package appversion reports the vigil build version.
package appversion

import (
	"runtime/debug"
	"sync"
)

// version is set at build time via -ldflags "-X vigil/internal/appversion.version=...".
var version = "dev" //nolint:gochecknoglobals // ldflags requires package-level var

var resolved = sync.OnceValue(func() string { //nolint:gochecknoglobals // computed once
	info, ok := debug.ReadBuildInfo()
	return resolve(version, info, ok)
})

// String returns the ldflags version when set, otherwise the module version
// or VCS revision recorded by the Go toolchain, otherwise "dev".
func String() string {
	return resolved()
}

func resolve(ldflags string, info *debug.BuildInfo, ok bool) string {
	if ldflags != "dev" && ldflags != "" {
		return ldflags
	}
	if !ok || info == nil {
		return "dev"
	}
	if v := info.Main.Version; v != "" && v != "(devel)" {
		return v
	}
	var rev string
	var dirty bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if rev == "" {
		return "dev"
	}
	if len(rev) > 12 {
		rev = rev[:12]
	}
	if dirty {
		rev += "-dirty"
	}
	return "dev+" + rev
}
