// Package config loads the daemon's JSON config file via viper, cascading
// defaults < file < environment (AXD_ prefixed). Grounded on the teacher's
// config/loader.go priority-cascade shape, ported from a hand-rolled JSON
// reader onto viper per the rest of the pack's config-loading convention.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EventFile configures the single-file "latest high-priority event" writer.
type EventFile struct {
	Enabled    bool
	Path       string
	Priority   []string
	SessionKey string
}

// Remote configures the optional remote HTTP server.
type Remote struct {
	Enabled     bool
	Port        int
	Bind        string
	Secret      string
	TokenTTL    time.Duration
	BlockedApps []string
}

// RemoteTarget is one outbound federated-peer destination.
type RemoteTarget struct {
	URL    string
	Secret string
}

// ProcessGroupReporter configures milestone NDJSON logging.
type ProcessGroupReporter struct {
	DefaultOutput string
}

// Transports configures the concrete transport adapters the daemon wires
// onto its router at startup.
type Transports struct {
	AXMaxDepth          int
	CDPPort             int
	CDPAllowedBundleIDs []string
	CDPAllowedNames     []string
	ScriptInterpreter   string
	ScriptArgs          []string
}

// Config is the fully resolved daemon configuration.
type Config struct {
	GatewayURL           string
	EventFile            EventFile
	ProcessGroupReporter ProcessGroupReporter
	Remote               Remote
	RemoteTargets        map[string]RemoteTarget
	Transports           Transports
}

// defaultEventPriority is the default set of event types the event-file
// writer records.
var defaultEventPriority = []string{
	"process.error", "process.exit", "process.idle", "process.group.state_change",
}

// Load reads path (if present) overlaid on defaults, then applies AXD_
// prefixed environment variable overrides. A missing file is not an error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	v.SetDefault("event_file.priority", defaultEventPriority)
	v.SetDefault("remote.token_ttl", 3600)
	v.SetDefault("remote.port", 0)
	v.SetDefault("transports.ax_max_depth", 50)
	v.SetDefault("transports.cdp_port", 9222)
	v.SetDefault("transports.script_interpreter", "osascript")
	v.SetDefault("transports.script_args", []string{"-e"})

	v.SetEnvPrefix("AXD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	} else if !os.IsNotExist(err) {
		return Config{}, err
	}

	cfg := Config{
		GatewayURL: v.GetString("gateway_url"),
		EventFile: EventFile{
			Enabled:    v.GetBool("event_file.enabled"),
			Path:       v.GetString("event_file.path"),
			Priority:   v.GetStringSlice("event_file.priority"),
			SessionKey: v.GetString("event_file.session_key"),
		},
		ProcessGroupReporter: ProcessGroupReporter{
			DefaultOutput: v.GetString("process_group.reporter.default_output"),
		},
		Remote: Remote{
			Enabled:     v.GetBool("remote.enabled"),
			Port:        v.GetInt("remote.port"),
			Bind:        v.GetString("remote.bind"),
			Secret:      v.GetString("remote.secret"),
			TokenTTL:    time.Duration(v.GetInt64("remote.token_ttl")) * time.Second,
			BlockedApps: v.GetStringSlice("remote.blocked_apps"),
		},
		RemoteTargets: parseRemoteTargets(v),
		Transports: Transports{
			AXMaxDepth:          v.GetInt("transports.ax_max_depth"),
			CDPPort:             v.GetInt("transports.cdp_port"),
			CDPAllowedBundleIDs: v.GetStringSlice("transports.cdp_allowed_bundle_ids"),
			CDPAllowedNames:     v.GetStringSlice("transports.cdp_allowed_names"),
			ScriptInterpreter:   v.GetString("transports.script_interpreter"),
			ScriptArgs:          v.GetStringSlice("transports.script_args"),
		},
	}
	return cfg, nil
}

func parseRemoteTargets(v *viper.Viper) map[string]RemoteTarget {
	raw, ok := v.Get("remote_targets").(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]RemoteTarget, len(raw))
	for name, val := range raw {
		m, ok := val.(map[string]any)
		if !ok {
			continue
		}
		t := RemoteTarget{}
		if u, ok := m["url"].(string); ok {
			t.URL = u
		}
		if s, ok := m["secret"].(string); ok {
			t.Secret = s
		}
		out[name] = t
	}
	return out
}
