package util

import (
	"errors"
	"fmt"
	"net"
	"os/exec"
	"runtime"
)

// browserCommands 各平台打开链接的候选命令，按优先级排列
func browserCommands(goos, url string) [][]string {
	switch goos {
	case "windows":
		// rundll32 在 Windows 7 上比 cmd /c start 稳定
		return [][]string{
			{"rundll32", "url.dll,FileProtocolHandler", url},
			{"explorer", url},
		}
	case "darwin":
		return [][]string{{"open", url}}
	default:
		cmds := [][]string{{"xdg-open", url}}
		for _, b := range []string{"google-chrome", "firefox", "chromium-browser", "sensible-browser"} {
			cmds = append(cmds, []string{b, url})
		}
		return cmds
	}
}

// OpenBrowser 用首选命令打开默认浏览器
func OpenBrowser(url string) error {
	cmd := browserCommands(runtime.GOOS, url)[0]
	return exec.Command(cmd[0], cmd[1:]...).Start()
}

// OpenBrowserWithFallback 依次尝试候选命令，全部失败时返回第一个错误
func OpenBrowserWithFallback(url string) error {
	var first error
	for _, cmd := range browserCommands(runtime.GOOS, url) {
		err := exec.Command(cmd[0], cmd[1:]...).Start()
		if err == nil {
			return nil
		}
		if first == nil {
			first = err
		}
	}
	if first == nil {
		first = errors.New("no browser command available")
	}
	return first
}

// FindAvailablePort 从 startPort 开始查找本机可监听的端口
func FindAvailablePort(startPort, attempts int) (int, error) {
	if attempts <= 0 {
		attempts = 1
	}
	for p := startPort; p < startPort+attempts && p <= 65535; p++ {
		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", p))
		if err != nil {
			continue
		}
		ln.Close()
		return p, nil
	}
	return 0, fmt.Errorf("no free port in %d-%d", startPort, startPort+attempts-1)
}
