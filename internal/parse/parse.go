// Package parse turns raw CLI command output into structured records
// using per-dialect templates. Commands without a template fall back to
// raw text at the call site.
package parse

import (
	"errors"
	"regexp"
	"strings"
	"sync"
)

// Record is one parsed row of command output.
type Record map[string]string

// ErrNoTemplate is returned when no template is registered for the
// dialect/command pair.
var ErrNoTemplate = errors.New("parse: no template for command")

// Template converts raw command output into records.
type Template interface {
	Parse(output string) ([]Record, error)
}

// Registry maps (dialect, command) pairs to templates.
type Registry struct {
	mu        sync.RWMutex
	templates map[templateKey]Template
}

type templateKey struct {
	dialect string
	command string
}

// NewRegistry returns a registry preloaded with the builtin templates.
func NewRegistry() *Registry {
	r := &Registry{templates: make(map[templateKey]Template)}
	registerBuiltins(r)
	return r
}

// Register installs a template for a dialect/command pair, replacing
// any existing one. Commands are matched after whitespace normalization.
func (r *Registry) Register(dialect, command string, t Template) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[templateKey{dialect, normalize(command)}] = t
}

// Parse applies the registered template for the dialect/command pair.
// Returns ErrNoTemplate when none exists.
func (r *Registry) Parse(dialect, command, output string) ([]Record, error) {
	r.mu.RLock()
	t, ok := r.templates[templateKey{dialect, normalize(command)}]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNoTemplate
	}
	return t.Parse(output)
}

func normalize(command string) string {
	return strings.Join(strings.Fields(strings.ToLower(command)), " ")
}

// RowTemplate parses line-oriented tabular output: each line matching
// Pattern yields one record from its named capture groups. Lines
// matching Skip (or nothing at all) are ignored.
type RowTemplate struct {
	Pattern *regexp.Regexp
	Skip    *regexp.Regexp
}

func (t RowTemplate) Parse(output string) ([]Record, error) {
	var records []Record
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if t.Skip != nil && t.Skip.MatchString(line) {
			continue
		}
		m := t.Pattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		rec := make(Record)
		for i, name := range t.Pattern.SubexpNames() {
			if name != "" {
				rec[name] = strings.TrimSpace(m[i])
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

// FactsTemplate scans the whole output for each named pattern and
// produces a single record. Patterns that never match leave their key
// out of the record.
type FactsTemplate struct {
	Patterns map[string]*regexp.Regexp
}

func (t FactsTemplate) Parse(output string) ([]Record, error) {
	rec := make(Record)
	for key, re := range t.Patterns {
		m := re.FindStringSubmatch(output)
		if m == nil {
			continue
		}
		if len(m) > 1 {
			rec[key] = strings.TrimSpace(m[1])
		} else {
			rec[key] = strings.TrimSpace(m[0])
		}
	}
	if len(rec) == 0 {
		return nil, nil
	}
	return []Record{rec}, nil
}

func registerBuiltins(r *Registry) {
	r.Register("cisco_ios", "show ip interface brief", RowTemplate{
		Pattern: regexp.MustCompile(`^(?P<interface>\S+)\s+(?P<ip_address>\S+)\s+(?P<ok>\S+)\s+(?P<method>\S+)\s+(?P<status>.+?)\s+(?P<protocol>\S+)\s*$`),
		Skip:    regexp.MustCompile(`^Interface\s+`),
	})

	r.Register("cisco_ios", "show version", FactsTemplate{
		Patterns: map[string]*regexp.Regexp{
			"version":  regexp.MustCompile(`(?m)Version\s+([^\s,]+)`),
			"hostname": regexp.MustCompile(`(?m)^(\S+)\s+uptime\s+is`),
			"uptime":   regexp.MustCompile(`(?m)uptime is\s+(.+?)\s*$`),
			"serial":   regexp.MustCompile(`(?m)[Ss]erial [Nn]umber\s*:?\s*(\S+)`),
			"model":    regexp.MustCompile(`(?m)^[Cc]isco\s+(\S+)\s+.*processor`),
		},
	})
}
