// Package version хранит сведения о сборке. Значения зашиваются при
// компиляции через -ldflags "-X .../internal/version.version=...".
package version

import "fmt"

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Build — снимок сведений о сборке.
type Build struct {
	Version string
	Commit  string
	Date    string
}

// Current возвращает сведения о текущей сборке.
func Current() Build {
	return Build{Version: version, Commit: commit, Date: date}
}

func (b Build) String() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", b.Version, b.Commit, b.Date)
}

// String — краткая форма для логов и health-ответов.
func String() string {
	return Current().String()
}
