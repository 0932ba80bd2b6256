package dispatch

import (
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Dialect identifies the CLI conventions of a device family.
type Dialect string

const (
	DialectCiscoIOS     Dialect = "cisco_ios"
	DialectCiscoIOSXE   Dialect = "cisco_xe"
	DialectCiscoIOSXR   Dialect = "cisco_xr"
	DialectCiscoNXOS    Dialect = "cisco_nxos"
	DialectCiscoASA     Dialect = "cisco_asa"
	DialectJuniperJunos Dialect = "juniper_junos"
	DialectAristaEOS    Dialect = "arista_eos"
	DialectHPComware    Dialect = "hp_comware"
	DialectLinux        Dialect = "linux"
)

// dialectProfile holds the command sequences that differ between
// device families.
type dialectProfile struct {
	enable      string
	configEnter string
	configExit  string
	save        []string
}

var profiles = map[Dialect]dialectProfile{
	DialectCiscoIOS: {
		enable:      "enable",
		configEnter: "configure terminal",
		configExit:  "end",
		save:        []string{"copy running-config startup-config", "\n"},
	},
	DialectCiscoIOSXE: {
		enable:      "enable",
		configEnter: "configure terminal",
		configExit:  "end",
		save:        []string{"copy running-config startup-config", "\n"},
	},
	DialectCiscoIOSXR: {
		enable:      "enable",
		configEnter: "configure terminal",
		configExit:  "end",
		save:        []string{"commit"},
	},
	DialectCiscoNXOS: {
		enable:      "enable",
		configEnter: "configure terminal",
		configExit:  "end",
		save:        []string{"copy running-config startup-config"},
	},
	DialectCiscoASA: {
		enable:      "enable",
		configEnter: "configure terminal",
		configExit:  "end",
		save:        []string{"write memory"},
	},
	DialectJuniperJunos: {
		configEnter: "configure",
		configExit:  "exit configuration-mode",
		save:        []string{"commit"},
	},
	DialectAristaEOS: {
		enable:      "enable",
		configEnter: "configure terminal",
		configExit:  "end",
		save:        []string{"copy running-config startup-config"},
	},
	DialectHPComware: {
		configEnter: "system-view",
		configExit:  "quit",
		save:        []string{"save force"},
	},
	DialectLinux: {},
}

// platformTokens maps platform-string fragments to dialects. Longer
// tokens are tried first so "iosxr" wins over "ios"; no token may
// embed a more specific one (a "cisco_ios" entry would outrank
// "iosxe"/"iosxr" on length and reintroduce the shadowing).
var platformTokens = map[string]Dialect{
	"iosxe":      DialectCiscoIOSXE,
	"ios-xe":     DialectCiscoIOSXE,
	"ios_xe":     DialectCiscoIOSXE,
	"iosxr":      DialectCiscoIOSXR,
	"ios-xr":     DialectCiscoIOSXR,
	"ios_xr":     DialectCiscoIOSXR,
	"ios":        DialectCiscoIOS,
	"nxos":       DialectCiscoNXOS,
	"nexus":      DialectCiscoNXOS,
	"asa":        DialectCiscoASA,
	"junos":      DialectJuniperJunos,
	"juniper":    DialectJuniperJunos,
	"eos":        DialectAristaEOS,
	"arista":     DialectAristaEOS,
	"comware":    DialectHPComware,
	"hp_comware": DialectHPComware,
	"linux":      DialectLinux,
}

// ResolvePlatform maps a free-form platform string to a dialect.
// Matching is case-insensitive, longest token first, so a platform of
// "cisco_iosxr" resolves to IOS-XR rather than IOS. Unknown platforms
// fall back to cisco_ios with a warning.
func ResolvePlatform(platform string, logger *zap.Logger) Dialect {
	p := strings.ToLower(strings.TrimSpace(platform))
	if p == "" {
		return DialectCiscoIOS
	}

	tokens := make([]string, 0, len(platformTokens))
	for tok := range platformTokens {
		tokens = append(tokens, tok)
	}
	sort.Slice(tokens, func(i, j int) bool {
		if len(tokens[i]) != len(tokens[j]) {
			return len(tokens[i]) > len(tokens[j])
		}
		return tokens[i] < tokens[j]
	})

	for _, tok := range tokens {
		if strings.Contains(p, tok) {
			return platformTokens[tok]
		}
	}

	if logger != nil {
		logger.Warn("unknown platform, defaulting to cisco_ios", zap.String("platform", platform))
	}
	return DialectCiscoIOS
}

func (d Dialect) profile() dialectProfile {
	if p, ok := profiles[d]; ok {
		return p
	}
	return profiles[DialectCiscoIOS]
}

// SupportsEnable reports whether the dialect has a privilege escalation
// command.
func (d Dialect) SupportsEnable() bool {
	return d.profile().enable != ""
}
