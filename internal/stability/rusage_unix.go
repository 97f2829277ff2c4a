//go:build unix

package stability

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// maxRSS 返回进程生命周期内的最大常驻内存
func maxRSS() uint64 {
	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &ru); err != nil || ru.Maxrss <= 0 {
		return 0
	}
	// darwin 以字节为单位，其余平台为KB
	if runtime.GOOS == "darwin" || runtime.GOOS == "ios" {
		return uint64(ru.Maxrss)
	}
	return uint64(ru.Maxrss) * 1024
}
