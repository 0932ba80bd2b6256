package dispatch

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
)

// Credentials authenticate a CLI session.
type Credentials struct {
	Username string
	Password string
}

// Transport is an interactive CLI session on one device.
type Transport interface {
	// Enable escalates privileges where the dialect supports it.
	Enable(ctx context.Context, password string) error
	// Run sends one command and returns its output.
	Run(ctx context.Context, command string) (string, error)
	// RunBatch sends commands back to back and returns the combined
	// transcript, the way configuration blocks are applied.
	RunBatch(ctx context.Context, commands []string) (string, error)
	Close() error
}

// Dialer opens a Transport to a device.
type Dialer interface {
	Dial(ctx context.Context, host string, port int, creds Credentials, dialect Dialect) (Transport, error)
}

// SSHDialer opens interactive SSH shell sessions. Network devices
// frequently reject exec channels, so commands go through a pty shell
// with prompt detection.
type SSHDialer struct {
	ConnectTimeout time.Duration
	IdleTimeout    time.Duration
	logger         *zap.Logger
}

// NewSSHDialer applies the defaults used by interactive device CLIs:
// 30s to connect, 60s of output silence before a command is abandoned.
func NewSSHDialer(connectTimeout, idleTimeout time.Duration, logger *zap.Logger) *SSHDialer {
	if connectTimeout <= 0 {
		connectTimeout = 30 * time.Second
	}
	if idleTimeout <= 0 {
		idleTimeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SSHDialer{ConnectTimeout: connectTimeout, IdleTimeout: idleTimeout, logger: logger}
}

func (d *SSHDialer) Dial(ctx context.Context, host string, port int, creds Credentials, dialect Dialect) (Transport, error) {
	if port <= 0 {
		port = 22
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	cfg := &ssh.ClientConfig{
		User: creds.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(creds.Password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range questions {
					answers[i] = creds.Password
				}
				return answers, nil
			}),
		},
		// Device fleets rarely have stable host keys across RMAs and
		// reimages; verification is handled at the network boundary.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         d.ConnectTimeout,
	}

	dialCtx, cancel := context.WithTimeout(ctx, d.ConnectTimeout)
	defer cancel()

	// Context-aware TCP dial so callers can cancel mid-connect.
	var dialer net.Dialer
	tcpConn, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(tcpConn, addr, cfg)
	if err != nil {
		tcpConn.Close()
		return nil, fmt.Errorf("ssh handshake %s: %w", addr, err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)

	sess, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("open session %s: %w", addr, err)
	}

	if err := sess.RequestPty("vt100", 80, 200, ssh.TerminalModes{
		ssh.ECHO:          0,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}); err != nil {
		sess.Close()
		client.Close()
		return nil, fmt.Errorf("request pty %s: %w", addr, err)
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		client.Close()
		return nil, fmt.Errorf("stdin pipe %s: %w", addr, err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		client.Close()
		return nil, fmt.Errorf("stdout pipe %s: %w", addr, err)
	}

	if err := sess.Shell(); err != nil {
		sess.Close()
		client.Close()
		return nil, fmt.Errorf("start shell %s: %w", addr, err)
	}

	t := &shellTransport{
		client:      client,
		session:     sess,
		stdin:       stdin,
		chunks:      make(chan []byte, 16),
		idleTimeout: d.IdleTimeout,
		logger:      d.logger.With(zap.String("host", host)),
	}
	go t.pump(stdout)

	// Drain the login banner and settle on the initial prompt.
	drainCtx, cancelDrain := context.WithTimeout(ctx, 5*time.Second)
	t.collect(drainCtx, isPromptLine)
	cancelDrain()

	return t, nil
}

// shellTransport drives an interactive shell over one SSH session.
type shellTransport struct {
	client      *ssh.Client
	session     *ssh.Session
	stdin       io.WriteCloser
	chunks      chan []byte
	idleTimeout time.Duration
	logger      *zap.Logger
}

func (t *shellTransport) pump(r io.Reader) {
	defer close(t.chunks)
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			t.chunks <- chunk
		}
		if err != nil {
			return
		}
	}
}

// collect reads output until done reports the accumulated text is
// complete, the idle timeout elapses, or ctx is cancelled. Whatever
// was read is always returned.
func (t *shellTransport) collect(ctx context.Context, done func(string) bool) (string, error) {
	var sb strings.Builder
	idle := time.NewTimer(t.idleTimeout)
	defer idle.Stop()

	for {
		select {
		case chunk, ok := <-t.chunks:
			if !ok {
				return sb.String(), io.EOF
			}
			sb.Write(chunk)
			if done != nil && done(sb.String()) {
				return sb.String(), nil
			}
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(t.idleTimeout)
		case <-idle.C:
			return sb.String(), fmt.Errorf("no output for %s", t.idleTimeout)
		case <-ctx.Done():
			return sb.String(), ctx.Err()
		}
	}
}

// isPromptLine reports whether the last line of output looks like a
// device prompt waiting for input.
func isPromptLine(s string) bool {
	lines := strings.Split(s, "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	if last == "" {
		return false
	}
	switch last[len(last)-1] {
	case '#', '>', '$', '%':
		return true
	}
	return false
}

func (t *shellTransport) send(line string) error {
	_, err := t.stdin.Write([]byte(line + "\n"))
	if err != nil {
		return fmt.Errorf("write command: %w", err)
	}
	return nil
}

func (t *shellTransport) Run(ctx context.Context, command string) (string, error) {
	if err := t.send(command); err != nil {
		return "", err
	}
	out, err := t.collect(ctx, isPromptLine)
	return cleanOutput(out, command), err
}

func (t *shellTransport) RunBatch(ctx context.Context, commands []string) (string, error) {
	var transcript strings.Builder
	for _, cmd := range commands {
		out, err := t.Run(ctx, cmd)
		transcript.WriteString(out)
		if out != "" && !strings.HasSuffix(out, "\n") {
			transcript.WriteString("\n")
		}
		if err != nil {
			return transcript.String(), err
		}
	}
	return transcript.String(), nil
}

func (t *shellTransport) Enable(ctx context.Context, password string) error {
	if err := t.send("enable"); err != nil {
		return err
	}

	out, err := t.collect(ctx, func(s string) bool {
		return isPromptLine(s) || strings.Contains(s, "assword")
	})
	if err != nil {
		return err
	}

	if strings.Contains(out, "assword") {
		if err := t.send(password); err != nil {
			return err
		}
		out, err = t.collect(ctx, isPromptLine)
		if err != nil {
			return err
		}
	}

	lines := strings.Split(strings.TrimSpace(out), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	if strings.HasSuffix(last, "#") {
		return nil
	}
	return fmt.Errorf("privilege escalation refused")
}

func (t *shellTransport) Close() error {
	t.session.Close()
	return t.client.Close()
}

// cleanOutput strips the echoed command and the trailing prompt line.
func cleanOutput(out, command string) string {
	lines := strings.Split(out, "\n")

	start := 0
	if len(lines) > 0 && strings.Contains(lines[0], strings.TrimSpace(command)) {
		start = 1
	}

	end := len(lines)
	if end > start {
		last := strings.TrimSpace(lines[end-1])
		if last != "" && isPromptLine(last) && !strings.Contains(last, " ") {
			end--
		}
	}

	return strings.TrimRight(strings.Join(lines[start:end], "\n"), " \r\n")
}
