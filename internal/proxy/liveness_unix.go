//go:build linux || darwin || freebsd || netbsd || openbsd

package proxy

import (
	"errors"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// peerAlive 返回一个探测函数：对底层 socket 做非阻塞 MSG_PEEK，
// 读到 0 字节表示对端已关闭。PEEK 不会消费缓冲区中的数据。
// 无法取得文件描述符的连接（TLS、测试连接）始终视为存活。
func peerAlive(conn net.Conn) func() bool {
	sc, ok := conn.(syscall.Conn)
	if !ok || conn == nil {
		return alwaysAlive
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return alwaysAlive
	}

	buf := make([]byte, 1)
	return func() bool {
		alive := true
		err := raw.Read(func(fd uintptr) bool {
			n, _, rerr := unix.Recvfrom(int(fd), buf, unix.MSG_PEEK|unix.MSG_DONTWAIT)
			switch {
			case errors.Is(rerr, unix.EAGAIN), errors.Is(rerr, unix.EWOULDBLOCK), errors.Is(rerr, unix.EINTR):
			case rerr != nil:
				alive = false
			case n == 0:
				alive = false
			}
			return true
		})
		if err != nil {
			return false
		}
		return alive
	}
}
