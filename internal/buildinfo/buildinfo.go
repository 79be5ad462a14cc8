// Package buildinfo exposes what was stamped into the binary at link time:
//
//	go build -ldflags "-X github.com/xelth-com/dairysync/internal/buildinfo.Version=1.2.0 \
//	  -X github.com/xelth-com/dairysync/internal/buildinfo.CommitHash=$(git rev-parse --short HEAD)"
package buildinfo

import (
	"fmt"
	"time"
)

// Set via -ldflags at build time
var (
	Version    = "dev"
	CommitHash string // short git commit hash
	BuildTime  string // when the binary was compiled
)

// Info describes the running binary
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuildTime string `json:"buildTime,omitempty"`
	StartedAt string `json:"startedAt"`
}

var startTime = time.Now().UTC()

// Get returns the build stamp of this process
func Get() Info {
	return Info{
		Version:   Version,
		Commit:    CommitHash,
		BuildTime: BuildTime,
		StartedAt: startTime.Format(time.RFC3339),
	}
}

func (i Info) String() string {
	s := "dairysync " + i.Version
	if i.Commit != "" {
		s += fmt.Sprintf(" (%s)", i.Commit)
	}
	if i.BuildTime != "" {
		s += " built " + i.BuildTime
	}
	return s
}
