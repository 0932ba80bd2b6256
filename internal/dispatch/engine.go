package dispatch

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"time"

	"github.com/mheilberg/muster/internal/parse"
	"go.uber.org/zap"
)

// Failure kinds for per-device results.
const (
	FailureConnectTimeout = "connection_timeout"
	FailureAuth           = "authentication"
	FailureGeneric        = "error"
)

// cancelledMessage is reported on results skipped by cooperative
// cancellation.
const cancelledMessage = "Execution cancelled by user"

// Device is one target of a command dispatch.
type Device struct {
	Name     string `json:"name"`
	Address  string `json:"address"`
	Platform string `json:"platform,omitempty"`
	Port     int    `json:"port,omitempty"`
}

// CommandOutput is the raw and parsed output of one command.
type CommandOutput struct {
	Command string         `json:"command"`
	Raw     string         `json:"raw"`
	Records []parse.Record `json:"records,omitempty"`
}

// DeviceResult is the outcome of executing commands on one device.
type DeviceResult struct {
	Device      string  `json:"device"`
	Address     string  `json:"address"`
	Dialect     Dialect `json:"dialect,omitempty"`
	Success     bool    `json:"success"`
	Cancelled   bool    `json:"cancelled,omitempty"`
	FailureKind string  `json:"failure_kind,omitempty"`
	Error       string  `json:"error,omitempty"`

	// RawOutput is the newline-joined transcript across all commands;
	// CommandOutputs retains each command's output independently.
	RawOutput      string          `json:"raw_output,omitempty"`
	CommandOutputs []CommandOutput `json:"command_outputs,omitempty"`
	SaveWarning    string          `json:"save_warning,omitempty"`
	Duration       time.Duration   `json:"duration_ns"`
}

// Options control how commands are applied to a device.
type Options struct {
	// Enable requests privileged-mode entry before the commands run.
	// A failed escalation is logged and execution continues.
	Enable bool
	// ConfigMode applies the commands as one configuration block
	// inside the dialect's config context.
	ConfigMode bool
	// SaveConfig persists the running configuration afterwards.
	// Failures here degrade to a warning rather than failing the run.
	SaveConfig bool
	// ParseOutput converts command output to structured records where
	// a template exists for the dialect and command (exec mode only).
	ParseOutput bool
	// Port overrides the per-device port when the device leaves it 0.
	Port int
}

// Engine executes command sets against single devices.
type Engine struct {
	dialer   Dialer
	parser   *parse.Registry
	sessions *Registry
	logger   *zap.Logger
}

func NewEngine(dialer Dialer, parser *parse.Registry, sessions *Registry, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{dialer: dialer, parser: parser, sessions: sessions, logger: logger}
}

// Execute runs the command set on one device and never panics the
// caller: every outcome is reported through the result.
func (e *Engine) Execute(ctx context.Context, sessionID string, device Device, creds Credentials, commands []string, opts Options) DeviceResult {
	start := time.Now()
	result := DeviceResult{Device: device.Name, Address: device.Address}
	defer func() { result.Duration = time.Since(start) }()

	// Cancellation observed before connecting costs nothing.
	if e.cancelled(sessionID) {
		result.Cancelled = true
		result.Error = cancelledMessage
		return result
	}

	// Inventory addresses often carry a prefix length; the dialer
	// wants a bare host.
	host := device.Address
	if i := strings.Index(host, "/"); i >= 0 {
		host = host[:i]
	}

	dialect := ResolvePlatform(device.Platform, e.logger)
	result.Dialect = dialect

	port := device.Port
	if port <= 0 {
		port = opts.Port
	}

	transport, err := e.dialer.Dial(ctx, host, port, creds, dialect)
	if err != nil {
		result.FailureKind = classify(err)
		result.Error = err.Error()
		e.logger.Warn("device connection failed",
			zap.String("device", device.Name),
			zap.String("kind", result.FailureKind),
			zap.Error(err))
		return result
	}
	defer transport.Close()

	// A refused enable is only fatal once a command actually fails.
	if opts.Enable && dialect.SupportsEnable() {
		if err := transport.Enable(ctx, creds.Password); err != nil {
			e.logger.Debug("enable failed, continuing unprivileged",
				zap.String("device", device.Name), zap.Error(err))
		}
	}

	// Once a session is open the device runs its full command list;
	// cancellation is only observed before connecting.
	profile := dialect.profile()

	if opts.ConfigMode {
		batch := make([]string, 0, len(commands)+2)
		batch = append(batch, profile.configEnter)
		batch = append(batch, commands...)
		batch = append(batch, profile.configExit)

		out, err := transport.RunBatch(ctx, batch)
		if err != nil {
			// Classified failures carry only a message, never partial
			// output.
			result.FailureKind = classify(err)
			result.Error = err.Error()
			return result
		}
		result.CommandOutputs = append(result.CommandOutputs, CommandOutput{
			Command: strings.Join(commands, "\n"),
			Raw:     out,
		})
		result.RawOutput = out
	} else {
		var outputs []CommandOutput
		var transcript []string
		for _, cmd := range commands {
			raw, err := transport.Run(ctx, cmd)
			if err != nil {
				result.FailureKind = classify(err)
				result.Error = err.Error()
				return result
			}

			out := CommandOutput{Command: cmd, Raw: raw}
			if opts.ParseOutput && e.parser != nil {
				// A parse failure is never a command failure; the raw
				// text stands in.
				records, perr := e.parser.Parse(string(dialect), cmd, raw)
				if perr == nil {
					out.Records = records
				} else if !errors.Is(perr, parse.ErrNoTemplate) {
					e.logger.Debug("structured parse failed, keeping raw output",
						zap.String("command", cmd), zap.Error(perr))
				}
			}
			outputs = append(outputs, out)
			transcript = append(transcript, raw)
		}
		result.CommandOutputs = outputs
		result.RawOutput = strings.Join(transcript, "\n")
	}

	if opts.SaveConfig && len(profile.save) > 0 {
		transcript, err := transport.RunBatch(ctx, profile.save)
		result.CommandOutputs = append(result.CommandOutputs, CommandOutput{
			Command: "write_config",
			Raw:     transcript,
		})
		if err != nil {
			result.SaveWarning = err.Error()
			e.logger.Warn("config save failed",
				zap.String("device", device.Name), zap.Error(err))
		}
	}

	result.Success = true
	return result
}

func (e *Engine) cancelled(sessionID string) bool {
	return e.sessions != nil && e.sessions.IsCancelled(sessionID)
}

// classify buckets a transport error into a failure kind.
func classify(err error) string {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureConnectTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return FailureConnectTimeout
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "i/o timeout"), strings.Contains(msg, "connection timed out"):
		return FailureConnectTimeout
	case strings.Contains(msg, "unable to authenticate"),
		strings.Contains(msg, "permission denied"),
		strings.Contains(msg, "auth"):
		return FailureAuth
	default:
		return FailureGeneric
	}
}
