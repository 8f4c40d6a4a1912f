// Package version carries build identification for all four services.
package version

import (
	"fmt"
	"runtime"
)

const (
	Version   = "0.9.0"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// Info is the version payload health endpoints report.
type Info struct {
	Version   string `json:"version"`
	BuildDate string `json:"build_date"`
	GitCommit string `json:"git_commit"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

func Get() Info {
	return Info{
		Version:   Version,
		BuildDate: BuildDate,
		GitCommit: GitCommit,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}
