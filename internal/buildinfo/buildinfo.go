// Package buildinfo holds version identifiers injected at build time via
// -ldflags "-X geowatch/internal/buildinfo.Version=..." etc.
package buildinfo

import "runtime"

var (
    Version = "dev"
    Commit  = ""
    BuiltAt = ""
)

func Info() map[string]string {
    return map[string]string{
        "version": Version,
        "commit":  Commit,
        "builtAt": BuiltAt,
        "go":      runtime.Version(),
    }
}
