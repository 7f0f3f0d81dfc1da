// Package version holds build information injected at link time.
package version

import (
	"fmt"
	"runtime"
)

// Populated via -ldflags "-X github.com/jackzampolin/guideshelf/version.GitRelease=..." at build time.
var (
	GitRelease    = "dev"
	GitCommit     = "unknown"
	GitCommitDate = "unknown"
	GoInfo        = fmt.Sprintf("%s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH)
)
