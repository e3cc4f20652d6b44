package device

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"

	"golang.org/x/crypto/ssh"
)

// redisAddr is where CONFIG_DB listens inside the switch.
const redisAddr = "127.0.0.1:6379"

// SSHTunnel holds an SSH connection to a switch. It runs commands there and
// can forward a local TCP port to the switch's Redis.
type SSHTunnel struct {
	sshClient *ssh.Client

	mu        sync.Mutex
	localAddr string
	listener  net.Listener
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewSSHTunnel dials SSH on host:port (22 when port is 0) with password auth.
func NewSSHTunnel(host string, port int, user, pass string) (*SSHTunnel, error) {
	if port == 0 {
		port = 22
	}
	config := &ssh.ClientConfig{
		User: user,
		Auth: []ssh.AuthMethod{
			ssh.Password(pass),
		},
		// Switches are reached over the management network with per-device
		// host keys that are not distributed to this tool.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	sshClient, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return nil, fmt.Errorf("SSH dial %s: %w", addr, err)
	}
	return &SSHTunnel{sshClient: sshClient, done: make(chan struct{})}, nil
}

// ForwardRedis opens a local listener on a random port whose connections
// are forwarded to Redis on the switch. It returns the local address.
func (t *SSHTunnel) ForwardRedis() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener != nil {
		return t.localAddr, nil
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", fmt.Errorf("local listen: %w", err)
	}
	t.listener = listener
	t.localAddr = listener.Addr().String()

	t.wg.Add(1)
	go t.acceptLoop()
	return t.localAddr, nil
}

// Close stops forwarding, waits for forwarding goroutines to finish and
// closes the SSH connection.
func (t *SSHTunnel) Close() error {
	close(t.done)
	t.mu.Lock()
	if t.listener != nil {
		t.listener.Close()
	}
	t.mu.Unlock()
	t.wg.Wait()
	return t.sshClient.Close()
}

func (t *SSHTunnel) acceptLoop() {
	defer t.wg.Done()
	for {
		local, err := t.listener.Accept()
		if err != nil {
			select {
			case <-t.done:
				return
			default:
				continue
			}
		}
		t.wg.Add(1)
		go t.forward(local)
	}
}

func (t *SSHTunnel) forward(local net.Conn) {
	defer t.wg.Done()
	defer local.Close()

	remote, err := t.sshClient.Dial("tcp", redisAddr)
	if err != nil {
		return
	}
	defer remote.Close()

	done := make(chan struct{}, 2)
	go func() {
		io.Copy(remote, local)
		done <- struct{}{}
	}()
	go func() {
		io.Copy(local, remote)
		done <- struct{}{}
	}()
	<-done
}

// Run executes cmd on the switch in a new session, feeding it stdin, and
// returns the combined output. Cancelling ctx closes the session.
func (t *SSHTunnel) Run(ctx context.Context, cmd string, stdin io.Reader) (string, error) {
	session, err := t.sshClient.NewSession()
	if err != nil {
		return "", fmt.Errorf("SSH session: %w", err)
	}
	defer session.Close()

	var out bytes.Buffer
	session.Stdin = stdin
	session.Stdout = &out
	session.Stderr = &out

	errc := make(chan error, 1)
	go func() { errc <- session.Run(cmd) }()

	select {
	case err := <-errc:
		if err != nil {
			return out.String(), fmt.Errorf("SSH exec '%s': %w", cmd, err)
		}
		return out.String(), nil
	case <-ctx.Done():
		session.Close()
		return "", ctx.Err()
	}
}
