package scan

import (
	"context"
	"fmt"
	"math"
	"os/exec"
	"runtime"
	"strconv"
	"time"

	probing "github.com/prometheus-community/pro-bing"
)

// Pinger issues a single reachability probe against one target. A false
// result with a nil error means the target did not answer within the
// timeout; errors are reserved for probe setup problems.
type Pinger interface {
	Ping(ctx context.Context, target string, timeout time.Duration) (bool, error)
}

// ICMPPinger probes targets with one ICMP echo via pro-bing. This is the
// default backend for the individual probe worker pool.
type ICMPPinger struct{}

// Ping sends one echo request and waits up to timeout for a reply.
func (ICMPPinger) Ping(ctx context.Context, target string, timeout time.Duration) (bool, error) {
	pinger, err := probing.NewPinger(target)
	if err != nil {
		return false, fmt.Errorf("create pinger: %w", err)
	}

	pinger.Count = 1
	pinger.Timeout = timeout
	pinger.SetPrivileged(runtime.GOOS == "windows")

	// Run pinger in a goroutine for context cancellation.
	done := make(chan error, 1)
	go func() {
		done <- pinger.Run()
	}()

	select {
	case runErr := <-done:
		if runErr != nil {
			return false, nil
		}
		return pinger.Statistics().PacketsRecv > 0, nil
	case <-ctx.Done():
		pinger.Stop()
		return false, ctx.Err()
	}
}

// SystemPinger shells out to the platform ping utility. Useful where raw
// ICMP sockets are unavailable; the timeout flag syntax differs per OS
// family.
type SystemPinger struct{}

// Ping runs one `ping` invocation and reports whether it exited zero.
func (SystemPinger) Ping(ctx context.Context, target string, timeout time.Duration) (bool, error) {
	var args []string
	switch runtime.GOOS {
	case "windows":
		args = []string{"-n", "1", "-w", strconv.FormatInt(timeout.Milliseconds(), 10), target}
	case "darwin":
		args = []string{"-c", "1", "-W", strconv.FormatInt(timeout.Milliseconds(), 10), target}
	default:
		// Linux ping takes -W in whole seconds.
		secs := int(math.Ceil(timeout.Seconds()))
		if secs < 1 {
			secs = 1
		}
		args = []string{"-c", "1", "-W", strconv.Itoa(secs), target}
	}

	// Allow a little extra for process startup beyond the probe timeout.
	ctx, cancel := context.WithTimeout(ctx, timeout+time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "ping", args...)
	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.Canceled {
			return false, ctx.Err()
		}
		// Non-zero exit or deadline: host did not answer.
		return false, nil
	}
	return true, nil
}
