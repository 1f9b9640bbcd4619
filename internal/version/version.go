// Package version carries build metadata set through -ldflags.
package version

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// BuildInfo is the JSON shape served by the API and printed by -version.
type BuildInfo struct {
	Version   string `json:"version"`
	GitSHA    string `json:"git_sha"`
	BuildTime string `json:"build_time"`
}

func Info() BuildInfo {
	return BuildInfo{Version: Version, GitSHA: GitSHA, BuildTime: BuildTime}
}

func (b BuildInfo) String() string {
	return "spectrometer " + b.Version + " (" + b.GitSHA + ", built " + b.BuildTime + ")"
}
