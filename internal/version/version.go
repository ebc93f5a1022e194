// Package version carries build metadata injected via -ldflags.
package version

var (
	Version = "dev"
	Commit  = ""
)

// String renders the version with a short commit suffix when available.
func String() string {
	if Commit == "" {
		return Version
	}
	c := Commit
	if len(c) > 12 {
		c = c[:12]
	}
	return Version + " (" + c + ")"
}
