package internal

import "runtime/debug"

var (
	AppName    = "separate-streams-recorder"
	AppVersion = "devel"
	ModName    string

	BuildInfo *debug.BuildInfo
)

func init() {
	BuildInfo, _ = debug.ReadBuildInfo()
	if BuildInfo != nil {
		ModName = BuildInfo.Main.Path
	}
}
