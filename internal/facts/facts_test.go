package facts

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLookupShellFacts(t *testing.T) {

	assert := assert.New(t)

	var commands []string
	f := NewHostFacts(WithRunner(func(ctx context.Context, command string) (string, error) {
		commands = append(commands, command)
		return "48312\n", nil
	}))

	assert.Equal("48312", f.Lookup("temperature_cpu"))
	assert.Equal([]string{"cat /sys/class/thermal/thermal_zone0/temp"}, commands)
}

func TestLookupUnknownFact(t *testing.T) {

	calls := 0
	f := NewHostFacts(WithRunner(func(ctx context.Context, command string) (string, error) {
		calls++
		return "x", nil
	}))

	assert.Equal(t, "", f.Lookup("tempInverter"))
	assert.Equal(t, 0, calls)
	assert.False(t, Known("tempInverter"))
	assert.True(t, Known("ipv4_eth0"))
}

func TestLookupFailingCommand(t *testing.T) {

	f := NewHostFacts(WithRunner(func(ctx context.Context, command string) (string, error) {
		return "", errors.New("exit status 127")
	}))

	assert.Equal(t, "", f.Lookup("temperature_gpu"))
}

func TestLookupHostAndInterfaces(t *testing.T) {

	assert := assert.New(t)

	f := NewHostFacts(
		WithHostname(func() (string, error) { return "raspberrypi", nil }),
		WithInterfaceLookup(func(iface string) (string, error) {
			if iface == "eth0" {
				return "192.168.1.7", nil
			}
			return "", errors.New("no such interface")
		}),
	)

	assert.Equal("raspberrypi", f.Lookup("hostname"))
	assert.Equal("192.168.1.7", f.Lookup("ipv4_eth0"))
	assert.Equal("", f.Lookup("ipv4_wlan0"))
}

func TestShellRunner(t *testing.T) {

	out, err := ShellRunner(context.Background(), "echo marshal")
	assert.NoError(t, err)
	assert.Equal(t, "marshal\n", out)
}
