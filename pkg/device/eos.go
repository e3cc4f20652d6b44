package device

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/newtron-network/fibopt/pkg/prefixlist"
	"github.com/newtron-network/fibopt/pkg/util"
)

// FastCliCommand is the argv that runs EOS FastCli at privilege 15 inside a
// network namespace.
func FastCliCommand(netns string) []string {
	if netns == "" {
		netns = "default"
	}
	return []string{"sudo", "ip", "netns", "exec", netns, "FastCli", "-p", "15", "-A"}
}

// LoadCommands is the FastCli input that replaces prefix list name with the
// contents of path.
func LoadCommands(name, path string) string {
	return fmt.Sprintf("conf t\nip prefix-list %s file:%s\n", name, path)
}

// Runner executes argv with stdin and returns combined output.
type Runner func(ctx context.Context, stdin io.Reader, argv ...string) ([]byte, error)

func execRunner(ctx context.Context, stdin io.Reader, argv ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = stdin
	return cmd.CombinedOutput()
}

// EOSChannel loads prefix lists with FastCli on the local switch.
type EOSChannel struct {
	netns string
	run   Runner
}

// NewEOSChannel creates a channel that runs FastCli in netns.
func NewEOSChannel(netns string) *EOSChannel {
	return &EOSChannel{netns: netns, run: execRunner}
}

// WithRunner replaces the command runner.
func (c *EOSChannel) WithRunner(r Runner) *EOSChannel {
	c.run = r
	return c
}

// Apply points the named prefix list at its persisted file.
func (c *EOSChannel) Apply(ctx context.Context, pl PrefixList) error {
	argv := FastCliCommand(c.netns)
	util.WithField("list", pl.Name).Debugf("Running %s", strings.Join(argv, " "))

	out, err := c.run(ctx, strings.NewReader(LoadCommands(pl.Name, pl.Path)), argv...)
	if err != nil {
		return fmt.Errorf("FastCli: %w: %s", err, strings.TrimSpace(string(out)))
	}
	if msg := cliError(out); msg != "" {
		return fmt.Errorf("FastCli rejected %s: %s", pl.Name, msg)
	}
	return nil
}

// Close is a no-op for the local channel.
func (c *EOSChannel) Close() error { return nil }

// cliError returns the first "% ..." error line FastCli printed, if any.
// FastCli exits 0 even when a command is rejected.
func cliError(out []byte) string {
	for _, line := range bytes.Split(out, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if bytes.HasPrefix(line, []byte("% ")) {
			return string(line[2:])
		}
	}
	return ""
}

// remoteShell runs commands on a remote host.
type remoteShell interface {
	Run(ctx context.Context, cmd string, stdin io.Reader) (string, error)
	Close() error
}

// EOSSSHChannel copies each list to a remote switch and loads it there.
type EOSSSHChannel struct {
	shell remoteShell
	netns string
}

// NewEOSSSHChannel creates a channel over an established SSH connection.
func NewEOSSSHChannel(tunnel *SSHTunnel, netns string) *EOSSSHChannel {
	return &EOSSSHChannel{shell: tunnel, netns: netns}
}

// Apply uploads the rendered list to the same path on the switch, then loads it.
func (c *EOSSSHChannel) Apply(ctx context.Context, pl PrefixList) error {
	data := prefixlist.Render(pl.Entries)
	upload := fmt.Sprintf("mkdir -p %s && cat > %s", shellQuote(dirOf(pl.Path)), shellQuote(pl.Path))
	if out, err := c.shell.Run(ctx, upload, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("uploading %s: %w: %s", pl.Name, err, strings.TrimSpace(out))
	}

	out, err := c.shell.Run(ctx, strings.Join(FastCliCommand(c.netns), " "), strings.NewReader(LoadCommands(pl.Name, pl.Path)))
	if err != nil {
		return fmt.Errorf("FastCli: %w: %s", err, strings.TrimSpace(out))
	}
	if msg := cliError([]byte(out)); msg != "" {
		return fmt.Errorf("FastCli rejected %s: %s", pl.Name, msg)
	}
	return nil
}

// Close closes the SSH connection.
func (c *EOSSSHChannel) Close() error {
	return c.shell.Close()
}

func dirOf(path string) string {
	if i := strings.LastIndex(path, "/"); i > 0 {
		return path[:i]
	}
	return "."
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
