package version

import (
	"fmt"
	"runtime/debug"
)

// Version/Commit 可在构建时通过 -ldflags 注入。
var (
	Version = "0.1.0"
	Commit  = ""
)

// Full 返回 "vod-cache <version> (<commit>)"。未注入 Commit 时尝试读取 go build 记录的 vcs.revision。
func Full() string {
	return fmt.Sprintf("vod-cache %s (%s)", Version, commit())
}

func commit() string {
	if Commit != "" {
		return Commit
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" && len(setting.Value) >= 7 {
				return setting.Value[:7]
			}
		}
	}
	return "dev"
}
