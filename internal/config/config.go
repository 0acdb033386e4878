package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/die-net/rawprox/internal/logsink"
	"github.com/die-net/rawprox/internal/proxy"
	"github.com/die-net/rawprox/internal/ssh"
)

// ErrUsage is returned when neither a port rule nor the control plane is
// requested, leaving the process nothing to do.
var ErrUsage = errors.New("no port rules given and control plane disabled")

// Config is the complete startup configuration. The YAML keys match the
// long flag names with dashes replaced by underscores.
type Config struct {
	MCP     bool `yaml:"mcp"`
	MCPPort int  `yaml:"mcp_port"`

	FlushMillis    int    `yaml:"flush_millis"`
	FilenameFormat string `yaml:"filename_format"`
	LogDirectory   string `yaml:"log_directory"`

	Bind               string        `yaml:"bind"`
	DialTimeout        time.Duration `yaml:"dial_timeout"`
	NegotiationTimeout time.Duration `yaml:"negotiation_timeout"`
	TCPKeepAlive       string        `yaml:"tcp_keepalive"`
	SocketBuffer       int           `yaml:"socket_buffer"`

	Upstream      string `yaml:"upstream"`
	SSHKey        string `yaml:"ssh_key"`
	SSHKnownHosts string `yaml:"ssh_known_hosts"`

	Verbose bool `yaml:"verbose"`

	Rules []proxy.Rule `yaml:"rules"`

	// File is the --config path the rest was loaded from, if any.
	File string `yaml:"-"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		FlushMillis:        int(logsink.DefaultFlushInterval / time.Millisecond),
		FilenameFormat:     logsink.DefaultFilenameFormat,
		DialTimeout:        proxy.DefaultDialTimeout,
		NegotiationTimeout: 10 * time.Second,
		TCPKeepAlive:       "45:45:3",
		Upstream:           defaultUpstream(),
		SSHKey:             defaultSSHKey(),
		SSHKnownHosts:      defaultSSHKnownHostsPath(),
	}
}

// Load reads a YAML file over Default. Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()

	b, err := os.ReadFile(path) //nolint:gosec // Path is operator supplied.
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.File = path
	return cfg, nil
}

// addArgs appends positional LOCAL:HOST:PORT rules and takes at most one
// @DIRECTORY, which replaces any log_directory from the file.
func (c *Config) addArgs(args []string) error {
	var dirSeen bool
	for _, arg := range args {
		if dir, ok := strings.CutPrefix(arg, "@"); ok {
			if dirSeen {
				return fmt.Errorf("more than one log directory given (%q)", arg)
			}
			if dir == "" {
				return errors.New("empty log directory after @")
			}
			dirSeen = true
			c.LogDirectory = dir
			continue
		}

		rule, err := proxy.ParseRule(arg)
		if err != nil {
			return err
		}
		c.Rules = append(c.Rules, rule)
	}
	return nil
}

// Validate checks the assembled configuration. It returns ErrUsage when
// there is nothing to run.
func (c *Config) Validate() error {
	seen := make(map[uint16]proxy.Rule, len(c.Rules))
	for _, r := range c.Rules {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("invalid port rule %s: %w", r, err)
		}
		if prev, ok := seen[r.LocalPort]; ok {
			return fmt.Errorf("duplicate local port %d (%s and %s)", r.LocalPort, prev, r)
		}
		seen[r.LocalPort] = r
	}

	switch {
	case c.FlushMillis <= 0:
		return fmt.Errorf("flush interval must be positive, got %dms", c.FlushMillis)
	case c.FilenameFormat == "":
		return errors.New("filename format must not be empty")
	case c.MCPPort < 0 || c.MCPPort > 65535:
		return fmt.Errorf("control port %d out of range", c.MCPPort)
	case c.DialTimeout <= 0:
		return fmt.Errorf("dial timeout must be positive, got %s", c.DialTimeout)
	case c.SocketBuffer < 0:
		return fmt.Errorf("socket buffer must not be negative, got %d", c.SocketBuffer)
	}

	if _, err := ParseTCPKeepAlive(c.TCPKeepAlive); err != nil {
		return fmt.Errorf("invalid tcp keepalive: %w", err)
	}

	if len(c.Rules) == 0 {
		if c.LogDirectory != "" {
			return fmt.Errorf("log directory %s given without any port rule", c.LogDirectory)
		}
		if c.FilenameFormat != logsink.DefaultFilenameFormat {
			return errors.New("filename format given without any port rule")
		}
		if !c.MCP {
			return ErrUsage
		}
	}
	return nil
}

func (c *Config) FlushInterval() time.Duration {
	return time.Duration(c.FlushMillis) * time.Millisecond
}

// KeepAlive returns the parsed TCPKeepAlive setting. Validate has already
// rejected malformed values.
func (c *Config) KeepAlive() net.KeepAliveConfig {
	ka, _ := ParseTCPKeepAlive(c.TCPKeepAlive)
	return ka
}

// LogDestination returns where startup logging goes besides the console,
// if anywhere.
func (c *Config) LogDestination() (logsink.Destination, bool) {
	if c.LogDirectory == "" {
		return logsink.Destination{}, false
	}
	return logsink.Destination{Directory: c.LogDirectory, FilenameFormat: c.FilenameFormat}, true
}

// ParseTCPKeepAlive parses on, off or keepidle:keepintvl:keepcnt.
func ParseTCPKeepAlive(s string) (net.KeepAliveConfig, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	switch s {
	case "":
		return net.KeepAliveConfig{}, errors.New("empty")
	case "on":
		return net.KeepAliveConfig{Enable: true}, nil
	case "off":
		return net.KeepAliveConfig{Enable: false}, nil
	}

	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return net.KeepAliveConfig{}, errors.New("expected on|off|keepidle:keepintvl:keepcnt")
	}
	idle, err := parsePositive(parts[0])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepidle: %w", err)
	}
	interval, err := parsePositive(parts[1])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepintvl: %w", err)
	}
	count, err := parsePositive(parts[2])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepcnt: %w", err)
	}

	return net.KeepAliveConfig{
		Enable:   true,
		Idle:     time.Duration(idle) * time.Second,
		Interval: time.Duration(interval) * time.Second,
		Count:    count,
	}, nil
}

func parsePositive(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("must be > 0")
	}
	return n, nil
}

func defaultUpstream() string {
	if p := os.Getenv("ALL_PROXY"); p != "" {
		return p
	}
	if p := os.Getenv("all_proxy"); p != "" {
		return p
	}
	return "direct://"
}

func defaultSSHKey() string {
	if os.Getenv("SSH_AUTH_SOCK") != "" {
		return ssh.AgentKeyPath
	}
	return ""
}

func defaultSSHKnownHostsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".ssh", "known_hosts")
}
