// Package device pushes prefix lists to the forwarding device.
//
// Three channels are supported:
//   - eos: FastCli on the local switch reading the persisted file
//   - eos-ssh: the file is copied to a remote switch and loaded with FastCli there
//   - configdb: PREFIX_SET entries written to SONiC CONFIG_DB over Redis
package device

import (
	"context"
	"fmt"

	"github.com/newtron-network/fibopt/pkg/prefixlist"
	"github.com/newtron-network/fibopt/pkg/settings"
)

// PrefixList is one named list as it should appear on the device.
type PrefixList struct {
	// Name is the device object name, e.g. fib_optimizer_lem_v4.
	Name string
	// Path is the persisted file the device loads the list from.
	Path string
	// Entries is the full list; channels that do not read Path use it.
	Entries prefixlist.List
}

// Channel replaces a named prefix list on the device. Each Apply fully
// replaces the object; the device reprograms the FIB from it.
type Channel interface {
	Apply(ctx context.Context, pl PrefixList) error
	Close() error
}

// Open builds the channel selected by cfg.
func Open(cfg settings.DeviceConfig) (Channel, error) {
	switch cfg.Kind {
	case settings.DeviceEOS, "":
		return NewEOSChannel(cfg.Netns), nil
	case settings.DeviceEOSSSH:
		tunnel, err := NewSSHTunnel(cfg.Host, cfg.Port, cfg.User, cfg.Password)
		if err != nil {
			return nil, err
		}
		return NewEOSSSHChannel(tunnel, cfg.Netns), nil
	case settings.DeviceConfigDB:
		return OpenConfigDB(cfg)
	}
	return nil, fmt.Errorf("unknown device kind %q", cfg.Kind)
}
