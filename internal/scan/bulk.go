package scan

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrToolNotFound indicates the external batch-probing binary is not
// installed. Callers may fall back to individual-probe mode.
var ErrToolNotFound = errors.New("scan: batch probe tool not found")

// BulkProber probes a whole target list with one invocation of an external
// batch tool (fping). Targets are written to a transient file fed to the
// tool's stdin; combined stdout/stderr is parsed for "is alive" records.
type BulkProber struct {
	Binary  string        // tool name or path, default "fping"
	Timeout time.Duration // bounds the entire batch call
	logger  *zap.Logger
}

// NewBulkProber creates a BulkProber. A zero timeout defaults to 15s.
func NewBulkProber(binary string, timeout time.Duration, logger *zap.Logger) *BulkProber {
	if binary == "" {
		binary = "fping"
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &BulkProber{Binary: binary, Timeout: timeout, logger: logger}
}

// Probe runs the batch tool over all targets and returns the alive set.
func (b *BulkProber) Probe(ctx context.Context, targets []string) (map[string]struct{}, error) {
	if len(targets) == 0 {
		return map[string]struct{}{}, nil
	}

	f, err := os.CreateTemp("", "muster-targets-*.txt")
	if err != nil {
		return nil, fmt.Errorf("create target file: %w", err)
	}
	defer os.Remove(f.Name())

	for _, t := range targets {
		if _, err := fmt.Fprintln(f, t); err != nil {
			f.Close()
			return nil, fmt.Errorf("write target file: %w", err)
		}
	}
	if _, err := f.Seek(0, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("rewind target file: %w", err)
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(ctx, b.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, b.Binary)
	cmd.Stdin = f
	out, err := cmd.CombinedOutput()
	if err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) && errors.Is(execErr.Err, exec.ErrNotFound) {
			return nil, fmt.Errorf("%w: %q", ErrToolNotFound, b.Binary)
		}
		if ctx.Err() == context.DeadlineExceeded {
			// Bounded batch call ran out of time; report what was collected.
			b.logger.Warn("batch probe timed out",
				zap.String("binary", b.Binary),
				zap.Duration("timeout", b.Timeout))
			return parseAlive(string(out)), nil
		}
		// fping exits non-zero when any target is unreachable; its output
		// is still the result.
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("run %s: %w", b.Binary, err)
		}
	}

	alive := parseAlive(string(out))
	b.logger.Info("batch probe finished",
		zap.Int("targets", len(targets)),
		zap.Int("alive", len(alive)),
	)
	return alive, nil
}

// parseAlive extracts addresses from line-oriented tool output. Only lines
// of the form "<addr> is alive" count as positive signals; duplicates,
// "is unreachable" records and tool warnings are skipped, not
// misclassified.
func parseAlive(output string) map[string]struct{} {
	alive := make(map[string]struct{})
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(strings.TrimSpace(line))
		if len(fields) < 3 {
			continue
		}
		if fields[1] != "is" || fields[2] != "alive" {
			continue
		}
		if _, err := netip.ParseAddr(fields[0]); err != nil {
			continue
		}
		alive[fields[0]] = struct{}{}
	}
	return alive
}
