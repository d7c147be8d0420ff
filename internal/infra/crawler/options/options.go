package options

import (
	"strconv"
	"strings"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
)

type LauncherOption func(*launcher.Launcher)

func WithBin(bin string) LauncherOption {
	return func(l *launcher.Launcher) {
		if bin != "" {
			l.Bin(bin)
		}
	}
}

func WithUserDataDir(dir string) LauncherOption {
	return func(l *launcher.Launcher) {
		if dir != "" {
			l.UserDataDir(dir)
		}
	}
}

func WithHeadless(headless bool) LauncherOption {
	return func(l *launcher.Launcher) {
		l.Headless(headless)
	}
}

func WithDisableBlinkFeatures(features string) LauncherOption {
	return func(l *launcher.Launcher) {
		if features != "" {
			l.Set("disable-blink-features", features)
		}
	}
}

func WithIncognito(incognito bool) LauncherOption {
	return func(l *launcher.Launcher) {
		if incognito {
			l.Set("incognito")
		}
	}
}

func WithDisableDevShmUsage(disable bool) LauncherOption {
	return func(l *launcher.Launcher) {
		if disable {
			l.Set("disable-dev-shm-usage")
		}
	}
}

func WithNoSandbox(noSandbox bool) LauncherOption {
	return func(l *launcher.Launcher) {
		if noSandbox {
			l.NoSandbox(true)
		}
	}
}

func WithUserAgent(userAgent string) LauncherOption {
	return func(l *launcher.Launcher) {
		if userAgent != "" {
			l.Set("user-agent", userAgent)
		}
	}
}

func WithLeakless(leakless bool) LauncherOption {
	return func(l *launcher.Launcher) {
		l.Leakless(leakless)
	}
}

func WithRemoteDebuggingPort(port int) LauncherOption {
	return func(l *launcher.Launcher) {
		if port > 0 {
			l.Set(flags.RemoteDebuggingPort, strconv.Itoa(port))
		}
	}
}

// WithArguments 追加自由形式的启动参数,形如 --disable-web-security 或 --lang=zh-CN
func WithArguments(arguments []string) LauncherOption {
	return func(l *launcher.Launcher) {
		for _, arg := range arguments {
			name, value := ParseArgument(arg)
			if name == "" {
				continue
			}
			if value == "" {
				l.Set(flags.Flag(name))
			} else {
				l.Set(flags.Flag(name), value)
			}
		}
	}
}

// ParseArgument 拆解一条命令行参数,返回去掉前导横线的名字和可选的值
func ParseArgument(arg string) (string, string) {
	arg = strings.TrimLeft(strings.TrimSpace(arg), "-")
	if arg == "" {
		return "", ""
	}
	name, value, _ := strings.Cut(arg, "=")
	return name, value
}

// CreateLauncher 按选项组装rod启动器,是否Launch由调用方决定
func CreateLauncher(opts ...LauncherOption) *launcher.Launcher {
	l := launcher.New()
	for _, opt := range opts {
		opt(l)
	}
	return l
}
