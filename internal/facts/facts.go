package facts

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

const DEFAULT_COMMAND_TIMEOUT = 3 * time.Second

// shellCommands maps fact names to the shell pipeline that produces them.
var shellCommands = map[string]string{
	"temperature_gpu":        `/opt/vc/bin/vcgencmd measure_temp | awk '{print substr($1, 6, 4)}'`,
	"temperature_cpu":        `cat /sys/class/thermal/thermal_zone0/temp`,
	"uname":                  `uname -a`,
	"reference":              `cat /etc/rpi-issue`,
	"release_os":             `cat /etc/os-release`,
	"revision_processor":     `cat /proc/cpuinfo | grep "Revision" | cut -d ' ' -f 2`,
	"serialnumber_processor": `cat /proc/cpuinfo | grep "Serial" | cut -d ' ' -f 2`,
	"username":               `whoami`,
	"date":                   `date`,
}

var interfaceFacts = map[string]string{
	"ipv4_eth0":  "eth0",
	"ipv4_wlan0": "wlan0",
}

// Runner executes a shell command line and returns its standard output.
type Runner func(ctx context.Context, command string) (string, error)

type HostFacts struct {
	runner   Runner
	hostname func() (string, error)
	ipv4     func(iface string) (string, error)
	timeout  time.Duration
	logger   *zap.Logger
}

type Option func(*HostFacts)

func WithRunner(runner Runner) Option {
	return func(f *HostFacts) {
		f.runner = runner
	}
}

func WithHostname(hostname func() (string, error)) Option {
	return func(f *HostFacts) {
		f.hostname = hostname
	}
}

func WithInterfaceLookup(ipv4 func(iface string) (string, error)) Option {
	return func(f *HostFacts) {
		f.ipv4 = ipv4
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(f *HostFacts) {
		if timeout > 0 {
			f.timeout = timeout
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(f *HostFacts) {
		f.logger = logger
	}
}

func NewHostFacts(opts ...Option) *HostFacts {
	f := &HostFacts{
		runner:   ShellRunner,
		hostname: os.Hostname,
		ipv4:     InterfaceIPv4,
		timeout:  DEFAULT_COMMAND_TIMEOUT,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Lookup resolves a fact about the host running the agent. It returns an
// empty string for unknown names and for facts that cannot be read.
func (f *HostFacts) Lookup(name string) string {
	value, err := f.lookup(name)
	if err != nil {
		f.logger.Debug("facts@lookup: unavailable", zap.String("fact", name), zap.Error(err))
		return ""
	}
	return value
}

func (f *HostFacts) lookup(name string) (string, error) {
	if name == "hostname" {
		return f.hostname()
	}
	if iface, ok := interfaceFacts[name]; ok {
		return f.ipv4(iface)
	}
	command, ok := shellCommands[name]
	if !ok {
		return "", fmt.Errorf("unknown fact %q", name)
	}
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()
	out, err := f.runner(ctx, command)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(out, "\n"), nil
}

// Known reports whether name is a fact this host can be asked for.
func Known(name string) bool {
	if name == "hostname" {
		return true
	}
	if _, ok := interfaceFacts[name]; ok {
		return true
	}
	_, ok := shellCommands[name]
	return ok
}

func ShellRunner(ctx context.Context, command string) (string, error) {
	out, err := exec.CommandContext(ctx, "sh", "-c", command).Output()
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// InterfaceIPv4 returns the first IPv4 address bound to the named interface.
func InterfaceIPv4(name string) (string, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return "", err
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return "", err
	}
	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok {
			if ip4 := ipnet.IP.To4(); ip4 != nil {
				return ip4.String(), nil
			}
		}
	}
	return "", errors.New("no ipv4 address on " + name)
}
