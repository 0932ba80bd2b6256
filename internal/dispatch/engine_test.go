package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/mheilberg/muster/internal/parse"
	"github.com/mheilberg/muster/internal/testutil"
)

// fakeTransport scripts per-command responses.
type fakeTransport struct {
	mu        sync.Mutex
	outputs   map[string]string
	errs      map[string]error
	ran       []string
	enabled   bool
	closed    bool
	enableErr error
}

func (f *fakeTransport) Enable(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enableErr != nil {
		return f.enableErr
	}
	f.enabled = true
	return nil
}

func (f *fakeTransport) Run(_ context.Context, command string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ran = append(f.ran, command)
	if err := f.errs[command]; err != nil {
		return "", err
	}
	if out, ok := f.outputs[command]; ok {
		return out, nil
	}
	return "ok", nil
}

func (f *fakeTransport) RunBatch(ctx context.Context, commands []string) (string, error) {
	var sb strings.Builder
	for _, cmd := range commands {
		out, err := f.Run(ctx, cmd)
		sb.WriteString(out + "\n")
		if err != nil {
			return sb.String(), err
		}
	}
	return sb.String(), nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// fakeDialer returns a scripted transport, or an error.
type fakeDialer struct {
	mu        sync.Mutex
	transport Transport
	err       error
	dials     int
	lastHost  string
}

func (d *fakeDialer) Dial(_ context.Context, host string, _ int, _ Credentials, _ Dialect) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	d.lastHost = host
	if d.err != nil {
		return nil, d.err
	}
	return d.transport, nil
}

func newTestEngine(d Dialer) (*Engine, *Registry) {
	sessions := NewRegistry()
	e := NewEngine(d, parse.NewRegistry(), sessions, testutil.Logger())
	return e, sessions
}

func TestExecuteSuccess(t *testing.T) {
	ft := &fakeTransport{outputs: map[string]string{"show clock": "10:00:00 UTC"}}
	e, sessions := newTestEngine(&fakeDialer{transport: ft})
	sessions.Register("s1")

	result := e.Execute(context.Background(), "s1",
		Device{Name: "sw1", Address: "10.0.0.1", Platform: "cisco_ios"},
		Credentials{Username: "admin"},
		[]string{"show clock"}, Options{})

	if !result.Success {
		t.Fatalf("Success = false, error = %q", result.Error)
	}
	if len(result.CommandOutputs) != 1 {
		t.Fatalf("got %d outputs, want 1", len(result.CommandOutputs))
	}
	if result.CommandOutputs[0].Raw != "10:00:00 UTC" {
		t.Errorf("raw output = %q", result.CommandOutputs[0].Raw)
	}
	if !ft.closed {
		t.Error("transport not closed")
	}
}

func TestExecutePreCancelledSkipsConnection(t *testing.T) {
	d := &fakeDialer{transport: &fakeTransport{}}
	e, sessions := newTestEngine(d)
	sessions.Register("s1")
	sessions.Cancel("s1")

	result := e.Execute(context.Background(), "s1",
		Device{Name: "sw1", Address: "10.0.0.1"},
		Credentials{}, []string{"show clock"}, Options{})

	if !result.Cancelled {
		t.Error("Cancelled = false, want true")
	}
	if result.Error != "Execution cancelled by user" {
		t.Errorf("Error = %q", result.Error)
	}
	if d.dials != 0 {
		t.Errorf("dial attempts = %d, want 0", d.dials)
	}
}

func TestExecuteStripsMaskSuffix(t *testing.T) {
	d := &fakeDialer{transport: &fakeTransport{}}
	e, _ := newTestEngine(d)

	e.Execute(context.Background(), "s1",
		Device{Name: "sw1", Address: "10.0.0.1/24"},
		Credentials{}, []string{"show clock"}, Options{})

	if d.lastHost != "10.0.0.1" {
		t.Errorf("dialed host = %q, want 10.0.0.1", d.lastHost)
	}
}

func TestExecuteConnectionFailureKinds(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"timeout", errors.New("dial 10.0.0.1:22: i/o timeout"), FailureConnectTimeout},
		{"deadline", context.DeadlineExceeded, FailureConnectTimeout},
		{"auth", errors.New("ssh: handshake failed: ssh: unable to authenticate"), FailureAuth},
		{"refused", errors.New("dial 10.0.0.1:22: connection refused"), FailureGeneric},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newTestEngine(&fakeDialer{err: tt.err})

			result := e.Execute(context.Background(), "s1",
				Device{Name: "sw1", Address: "10.0.0.1"},
				Credentials{}, []string{"show clock"}, Options{})

			if result.Success {
				t.Fatal("Success = true, want false")
			}
			if result.FailureKind != tt.want {
				t.Errorf("FailureKind = %q, want %q", result.FailureKind, tt.want)
			}
			if len(result.CommandOutputs) != 0 {
				t.Errorf("CommandOutputs = %v, want empty", result.CommandOutputs)
			}
		})
	}
}

func TestExecuteEnableFailureIsNotFatal(t *testing.T) {
	ft := &fakeTransport{enableErr: errors.New("privilege escalation refused")}
	e, _ := newTestEngine(&fakeDialer{transport: ft})

	result := e.Execute(context.Background(), "s1",
		Device{Name: "sw1", Address: "10.0.0.1", Platform: "cisco_ios"},
		Credentials{}, []string{"show clock"}, Options{Enable: true})

	if !result.Success {
		t.Errorf("Success = false after enable failure, error = %q", result.Error)
	}
}

func TestExecuteCommandFailureStopsRun(t *testing.T) {
	ft := &fakeTransport{
		outputs: map[string]string{"show clock": "10:00:00"},
		errs:    map[string]error{"show broken": errors.New("no output for 1m0s")},
	}
	e, _ := newTestEngine(&fakeDialer{transport: ft})

	result := e.Execute(context.Background(), "s1",
		Device{Name: "sw1", Address: "10.0.0.1"},
		Credentials{},
		[]string{"show clock", "show broken", "show never"}, Options{})

	if result.Success {
		t.Fatal("Success = true, want false")
	}
	if result.FailureKind != FailureGeneric {
		t.Errorf("FailureKind = %q, want %q", result.FailureKind, FailureGeneric)
	}
	// A classified failure carries only its message; no partial output
	// survives, and later commands never run.
	if len(result.CommandOutputs) != 0 {
		t.Errorf("CommandOutputs = %v, want empty on failure", result.CommandOutputs)
	}
	if result.RawOutput != "" {
		t.Errorf("RawOutput = %q, want empty on failure", result.RawOutput)
	}
	for _, cmd := range ft.ran {
		if cmd == "show never" {
			t.Error("command after failure was executed")
		}
	}
}

func TestExecuteParsesKnownCommands(t *testing.T) {
	output := `Interface              IP-Address      OK? Method Status                Protocol
GigabitEthernet0/0     192.0.2.1       YES NVRAM  up                    up
`
	ft := &fakeTransport{outputs: map[string]string{"show ip interface brief": output}}
	e, _ := newTestEngine(&fakeDialer{transport: ft})

	result := e.Execute(context.Background(), "s1",
		Device{Name: "sw1", Address: "10.0.0.1", Platform: "cisco_ios"},
		Credentials{}, []string{"show ip interface brief"}, Options{ParseOutput: true})

	if !result.Success {
		t.Fatalf("Success = false, error = %q", result.Error)
	}
	records := result.CommandOutputs[0].Records
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if records[0]["interface"] != "GigabitEthernet0/0" {
		t.Errorf("interface = %q", records[0]["interface"])
	}
	if result.CommandOutputs[0].Raw == "" {
		t.Error("raw output dropped when records parsed")
	}
}

func TestExecuteUnknownCommandKeepsRawOnly(t *testing.T) {
	ft := &fakeTransport{outputs: map[string]string{"show odd": "words"}}
	e, _ := newTestEngine(&fakeDialer{transport: ft})

	result := e.Execute(context.Background(), "s1",
		Device{Name: "sw1", Address: "10.0.0.1"},
		Credentials{}, []string{"show odd"}, Options{ParseOutput: true})

	out := result.CommandOutputs[0]
	if out.Raw != "words" || out.Records != nil {
		t.Errorf("output = %+v, want raw only", out)
	}
}

// brokenTemplate always fails, standing in for a malformed template.
type brokenTemplate struct{}

func (brokenTemplate) Parse(string) ([]parse.Record, error) {
	return nil, errors.New("template corrupt")
}

func TestExecuteParseFailureFallsBackToRaw(t *testing.T) {
	parser := parse.NewRegistry()
	parser.Register("cisco_ios", "show widgets", brokenTemplate{})

	ft := &fakeTransport{outputs: map[string]string{
		"show clock":   "10:00:00",
		"show widgets": "widget table",
		"show users":   "nobody",
	}}
	sessions := NewRegistry()
	e := NewEngine(&fakeDialer{transport: ft}, parser, sessions, testutil.Logger())

	result := e.Execute(context.Background(), "s1",
		Device{Name: "sw1", Address: "10.0.0.1", Platform: "cisco_ios"},
		Credentials{},
		[]string{"show clock", "show widgets", "show users"},
		Options{ParseOutput: true})

	if !result.Success {
		t.Fatalf("Success = false, error = %q", result.Error)
	}
	if len(result.CommandOutputs) != 3 {
		t.Fatalf("got %d outputs, want 3", len(result.CommandOutputs))
	}
	mid := result.CommandOutputs[1]
	if mid.Raw != "widget table" || mid.Records != nil {
		t.Errorf("parse failure did not fall back to raw: %+v", mid)
	}
	// Outputs keep input command order.
	order := []string{"show clock", "show widgets", "show users"}
	for i, want := range order {
		if result.CommandOutputs[i].Command != want {
			t.Errorf("outputs[%d].Command = %q, want %q", i, result.CommandOutputs[i].Command, want)
		}
	}
	if result.RawOutput != "10:00:00\nwidget table\nnobody" {
		t.Errorf("RawOutput = %q", result.RawOutput)
	}
}

func TestExecuteConfigMode(t *testing.T) {
	ft := &fakeTransport{}
	e, _ := newTestEngine(&fakeDialer{transport: ft})

	result := e.Execute(context.Background(), "s1",
		Device{Name: "sw1", Address: "10.0.0.1", Platform: "cisco_ios"},
		Credentials{},
		[]string{"interface Gi0/1", "description uplink"},
		Options{ConfigMode: true})

	if !result.Success {
		t.Fatalf("Success = false, error = %q", result.Error)
	}
	want := []string{"configure terminal", "interface Gi0/1", "description uplink", "end"}
	if len(ft.ran) != len(want) {
		t.Fatalf("ran %v, want %v", ft.ran, want)
	}
	for i := range want {
		if ft.ran[i] != want[i] {
			t.Errorf("ran[%d] = %q, want %q", i, ft.ran[i], want[i])
		}
	}
	if len(result.CommandOutputs) != 1 {
		t.Errorf("config mode produced %d outputs, want 1 transcript", len(result.CommandOutputs))
	}
}

func TestExecuteSaveConfigWarning(t *testing.T) {
	ft := &fakeTransport{
		errs: map[string]error{"copy running-config startup-config": errors.New("filesystem full")},
	}
	e, _ := newTestEngine(&fakeDialer{transport: ft})

	result := e.Execute(context.Background(), "s1",
		Device{Name: "sw1", Address: "10.0.0.1", Platform: "cisco_ios"},
		Credentials{}, []string{"show clock"},
		Options{SaveConfig: true})

	if !result.Success {
		t.Errorf("save failure must not fail the run, error = %q", result.Error)
	}
	if result.SaveWarning == "" {
		t.Error("SaveWarning empty, want the save error")
	}
	last := result.CommandOutputs[len(result.CommandOutputs)-1]
	if last.Command != "write_config" {
		t.Errorf("last output command = %q, want write_config", last.Command)
	}
}

// cancellingTransport flags its session cancelled after the first
// command completes.
type cancellingTransport struct {
	fakeTransport
	sessions  *Registry
	sessionID string
}

func (c *cancellingTransport) Run(ctx context.Context, command string) (string, error) {
	out, err := c.fakeTransport.Run(ctx, command)
	c.sessions.Cancel(c.sessionID)
	return out, err
}

func TestExecuteCancelDoesNotInterruptOpenSession(t *testing.T) {
	sessions := NewRegistry()
	sessions.Register("s1")
	ct := &cancellingTransport{sessions: sessions, sessionID: "s1"}
	e := NewEngine(&fakeDialer{transport: ct}, parse.NewRegistry(), sessions, testutil.Logger())

	result := e.Execute(context.Background(), "s1",
		Device{Name: "sw1", Address: "10.0.0.1"},
		Credentials{}, []string{"a", "b", "c"}, Options{})

	// Cancellation is observed per device before connecting; a device
	// already mid-session runs its full command list.
	if result.Cancelled {
		t.Fatal("Cancelled = true, want false for an already-open session")
	}
	if !result.Success {
		t.Fatalf("Success = false, error = %q", result.Error)
	}
	if len(ct.ran) != 3 {
		t.Errorf("ran %v, want all three commands", ct.ran)
	}
	if len(result.CommandOutputs) != 3 {
		t.Errorf("got %d outputs, want 3", len(result.CommandOutputs))
	}
}
