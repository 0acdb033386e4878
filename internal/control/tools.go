package control

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/die-net/rawprox/internal/logsink"
	"github.com/die-net/rawprox/internal/proxy"
)

// Tool describes one callable operation in tools/list.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

type toolFunc func(ctx context.Context, s *Server, args json.RawMessage) (string, error)

type toolDef struct {
	Tool
	call toolFunc
}

func portSchema(desc string) map[string]any {
	return map[string]any{"type": "integer", "minimum": 1, "maximum": 65535, "description": desc}
}

var tools = []toolDef{
	{
		Tool: Tool{
			Name:        "start-logging",
			Description: "Start writing the traffic log to the console, or to a directory of NDJSON files.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"directory": map[string]any{
						"type":        []string{"string", "null"},
						"description": "Directory to write log files into. Omit or null for the console.",
					},
					"filename_format": map[string]any{
						"type":        "string",
						"description": "File name pattern with %Y %m %d %H %M %S and {timestamp} tokens, evaluated in UTC at every flush. Default " + logsink.DefaultFilenameFormat + ".",
					},
				},
				"additionalProperties": false,
			},
		},
		call: startLogging,
	},
	{
		Tool: Tool{
			Name:        "stop-logging",
			Description: "Stop one log destination, or every destination when directory is omitted.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"directory": map[string]any{
						"type":        []string{"string", "null"},
						"description": "Directory to stop logging to; null for the console. Omit to stop all destinations.",
					},
				},
				"additionalProperties": false,
			},
		},
		call: stopLogging,
	},
	{
		Tool: Tool{
			Name:        "add-port-rule",
			Description: "Listen on a local port and forward every connection to a target host and port.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"local_port":  portSchema("Local TCP port to listen on."),
					"target_host": map[string]any{"type": "string", "minLength": 1, "description": "Host name or IP address to forward to."},
					"target_port": portSchema("Target TCP port."),
				},
				"required":             []string{"local_port", "target_host", "target_port"},
				"additionalProperties": false,
			},
		},
		call: addPortRule,
	},
	{
		Tool: Tool{
			Name:        "remove-port-rule",
			Description: "Stop listening on a local port. Connections already open on it continue.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"local_port": portSchema("Local TCP port of the rule to remove."),
				},
				"required":             []string{"local_port"},
				"additionalProperties": false,
			},
		},
		call: removePortRule,
	},
	{
		Tool: Tool{
			Name:        "shutdown",
			Description: "Close every listener and connection, flush all log destinations, and exit.",
			InputSchema: map[string]any{
				"type":                 "object",
				"properties":           map[string]any{},
				"additionalProperties": false,
			},
		},
		call: shutdown,
	},
}

func findTool(name string) (toolDef, bool) {
	for _, t := range tools {
		if t.Name == name {
			return t, true
		}
	}
	return toolDef{}, false
}

// paramsError marks a failure caused by the caller's arguments.
type paramsError struct{ msg string }

func (e *paramsError) Error() string { return e.msg }

func invalidParams(format string, args ...any) error {
	return &paramsError{msg: fmt.Sprintf(format, args...)}
}

// decodeArgs unmarshals args into v, rejecting unknown fields. Empty args
// decode as {}.
func decodeArgs(args json.RawMessage, v any) error {
	if len(bytes.TrimSpace(args)) == 0 || bytes.Equal(bytes.TrimSpace(args), []byte("null")) {
		args = json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(args))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return invalidParams("invalid arguments: %v", err)
	}
	return nil
}

func startLogging(_ context.Context, s *Server, args json.RawMessage) (string, error) {
	var p struct {
		Directory      *string `json:"directory"`
		FilenameFormat *string `json:"filename_format"`
	}
	if err := decodeArgs(args, &p); err != nil {
		return "", err
	}

	var dest logsink.Destination
	if p.Directory != nil {
		dest.Directory = *p.Directory
	}
	if p.FilenameFormat != nil {
		if *p.FilenameFormat == "" {
			return "", invalidParams("filename_format must not be empty")
		}
		dest.FilenameFormat = *p.FilenameFormat
	}

	if err := s.cfg.Logs.Start(dest); err != nil {
		return "", err
	}
	if dest.IsConsole() {
		return "Started logging to console", nil
	}
	format := dest.FilenameFormat
	if format == "" {
		format = logsink.DefaultFilenameFormat
	}
	return fmt.Sprintf("Started logging to %s (filename format %s)", dest.Directory, format), nil
}

func stopLogging(_ context.Context, s *Server, args json.RawMessage) (string, error) {
	var p map[string]json.RawMessage
	if err := decodeArgs(args, &p); err != nil {
		return "", err
	}

	var directory *string
	if raw, ok := p["directory"]; ok {
		var dir *string
		if err := json.Unmarshal(raw, &dir); err != nil {
			return "", invalidParams("directory must be a string or null")
		}
		if dir == nil {
			dir = new(string)
		}
		directory = dir
	}
	for k := range p {
		if k != "directory" {
			return "", invalidParams("unknown argument %q", k)
		}
	}

	stopped, err := s.cfg.Logs.Stop(directory)
	if len(stopped) == 0 && err != nil {
		return "", err
	}
	if len(stopped) == 0 {
		return "No log destinations were active", nil
	}

	names := make([]string, 0, len(stopped))
	for _, d := range stopped {
		names = append(names, d.String())
	}
	text := "Stopped logging to " + strings.Join(names, ", ")
	if err != nil {
		// Stopped; the unwritten events are retried on the next flush.
		text += " (final flush failed, will retry: " + err.Error() + ")"
	}
	return text, nil
}

func addPortRule(ctx context.Context, s *Server, args json.RawMessage) (string, error) {
	var p struct {
		LocalPort  *int    `json:"local_port"`
		TargetHost *string `json:"target_host"`
		TargetPort *int    `json:"target_port"`
	}
	if err := decodeArgs(args, &p); err != nil {
		return "", err
	}

	localPort, err := portArg("local_port", p.LocalPort)
	if err != nil {
		return "", err
	}
	targetPort, err := portArg("target_port", p.TargetPort)
	if err != nil {
		return "", err
	}
	if p.TargetHost == nil || *p.TargetHost == "" {
		return "", invalidParams("target_host is required")
	}

	rule := proxy.Rule{LocalPort: localPort, TargetHost: *p.TargetHost, TargetPort: targetPort}
	if err := s.cfg.Rules.AddRule(ctx, rule); err != nil {
		return "", err
	}
	return fmt.Sprintf("Forwarding port %d to %s", rule.LocalPort, rule.Target()), nil
}

func removePortRule(_ context.Context, s *Server, args json.RawMessage) (string, error) {
	var p struct {
		LocalPort *int `json:"local_port"`
	}
	if err := decodeArgs(args, &p); err != nil {
		return "", err
	}
	port, err := portArg("local_port", p.LocalPort)
	if err != nil {
		return "", err
	}

	rule, err := s.cfg.Rules.RemoveRule(port)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Removed port rule %s", rule), nil
}

func shutdown(_ context.Context, s *Server, args json.RawMessage) (string, error) {
	var p struct{}
	if err := decodeArgs(args, &p); err != nil {
		return "", err
	}
	s.requestShutdown()
	return "Shutting down", nil
}

func portArg(name string, v *int) (uint16, error) {
	if v == nil {
		return 0, invalidParams("%s is required", name)
	}
	if *v < 1 || *v > 65535 {
		return 0, invalidParams("%s must be between 1 and 65535, got %d", name, *v)
	}
	return uint16(*v), nil
}

// toRPCError maps a tool failure onto a JSON-RPC error object.
func toRPCError(err error) *Error {
	var pe *paramsError
	switch {
	case errors.As(err, &pe):
		return &Error{Code: CodeInvalidParams, Message: pe.msg}
	default:
		return &Error{Code: CodeToolFailed, Message: err.Error()}
	}
}
