package proxy

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

var (
	// ErrPortInUse is returned when a rule's local port is already forwarded
	// or cannot be bound.
	ErrPortInUse = errors.New("port in use")

	// ErrNoSuchRule is returned when removing a port that has no rule.
	ErrNoSuchRule = errors.New("no rule for port")
)

// Rule forwards connections accepted on LocalPort to TargetHost:TargetPort.
type Rule struct {
	LocalPort  uint16 `json:"local_port"  yaml:"local_port"`
	TargetHost string `json:"target_host" yaml:"target_host"`
	TargetPort uint16 `json:"target_port" yaml:"target_port"`
}

// Target returns the host:port relays dial, bracketing IPv6 hosts.
func (r Rule) Target() string {
	return net.JoinHostPort(r.TargetHost, strconv.Itoa(int(r.TargetPort)))
}

func (r Rule) String() string {
	return strconv.Itoa(int(r.LocalPort)) + ":" + r.Target()
}

// Validate checks that both ports are non-zero and the host is set.
func (r Rule) Validate() error {
	switch {
	case r.LocalPort == 0:
		return errors.New("local port must be between 1 and 65535")
	case r.TargetPort == 0:
		return errors.New("target port must be between 1 and 65535")
	case r.TargetHost == "":
		return errors.New("missing target host")
	}
	return nil
}

// ParseRule parses LOCAL_PORT:TARGET_HOST:TARGET_PORT. An IPv6 target host
// may be written bare or in brackets.
func ParseRule(s string) (Rule, error) {
	local, rest, ok := strings.Cut(s, ":")
	if !ok {
		return Rule{}, fmt.Errorf("invalid port rule %q: want LOCAL_PORT:TARGET_HOST:TARGET_PORT", s)
	}
	i := strings.LastIndexByte(rest, ':')
	if i < 0 {
		return Rule{}, fmt.Errorf("invalid port rule %q: want LOCAL_PORT:TARGET_HOST:TARGET_PORT", s)
	}
	host, target := rest[:i], rest[i+1:]
	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		host = host[1 : len(host)-1]
	}

	localPort, err := ParsePort(local)
	if err != nil {
		return Rule{}, fmt.Errorf("invalid port rule %q: local port: %w", s, err)
	}
	targetPort, err := ParsePort(target)
	if err != nil {
		return Rule{}, fmt.Errorf("invalid port rule %q: target port: %w", s, err)
	}

	r := Rule{LocalPort: localPort, TargetHost: host, TargetPort: targetPort}
	if err := r.Validate(); err != nil {
		return Rule{}, fmt.Errorf("invalid port rule %q: %w", s, err)
	}
	return r, nil
}

// ParsePort parses a decimal TCP port in 1-65535.
func ParsePort(s string) (uint16, error) {
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("%q is not a port between 1 and 65535", s)
	}
	return uint16(n), nil
}
