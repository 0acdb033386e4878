package control

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"

	"github.com/die-net/rawprox/internal/logsink"
	"github.com/die-net/rawprox/internal/proxy"
	"github.com/die-net/rawprox/internal/testutil"
)

type harness struct {
	srv      *Server
	ts       *httptest.Server
	logs     *logsink.Manager
	rules    *proxy.Server
	console  *testutil.SyncBuffer
	shutdown chan struct{}
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	log := zaptest.NewLogger(t)
	h := &harness{
		console:  &testutil.SyncBuffer{},
		shutdown: make(chan struct{}),
	}
	h.logs = logsink.NewManager(h.console, log)
	h.rules = proxy.NewServer(proxy.Config{Bind: "127.0.0.1", Log: log})
	t.Cleanup(func() { _ = h.rules.Close() })

	h.srv = NewServer(Config{
		Logs:     h.logs,
		Rules:    h.rules,
		Shutdown: func() { close(h.shutdown) },
		Version:  "test",
		Log:      log,
	})
	h.ts = httptest.NewServer(h.srv.Handler())
	t.Cleanup(h.ts.Close)
	return h
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *Error          `json:"error"`
	header  http.Header
}

func (h *harness) post(t *testing.T, body string) *rpcResponse {
	t.Helper()

	resp, err := http.Post(h.ts.URL+Path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content-Type = %q", ct)
	}

	var r rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		t.Fatal(err)
	}
	if r.JSONRPC != "2.0" {
		t.Fatalf("jsonrpc = %q", r.JSONRPC)
	}
	r.header = resp.Header
	return &r
}

func (h *harness) call(t *testing.T, tool string, args any) *rpcResponse {
	t.Helper()

	b, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params":  map[string]any{"name": tool, "arguments": args},
	})
	if err != nil {
		t.Fatal(err)
	}
	return h.post(t, string(b))
}

func resultText(t *testing.T, r *rpcResponse) string {
	t.Helper()

	if r.Error != nil {
		t.Fatalf("unexpected error %+v", r.Error)
	}
	var res struct {
		Content []textContent `json:"content"`
	}
	if err := json.Unmarshal(r.Result, &res); err != nil {
		t.Fatal(err)
	}
	if len(res.Content) != 1 || res.Content[0].Type != "text" {
		t.Fatalf("content = %+v", res.Content)
	}
	return res.Content[0].Text
}

func wantCode(t *testing.T, r *rpcResponse, code int) {
	t.Helper()
	if r.Error == nil {
		t.Fatalf("expected error %d, got result %s", code, r.Result)
	}
	if r.Error.Code != code {
		t.Fatalf("error = %+v, want code %d", r.Error, code)
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()
	return port
}

func TestInitialize(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name   string
		params string
		want   string
	}{
		{"echo client version", `{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"t","version":"1"}}`, "2025-03-26"},
		{"default version", `{}`, DefaultProtocolVersion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := h.post(t, `{"jsonrpc":"2.0","id":"init","method":"initialize","params":`+tt.params+`}`)
			if string(r.ID) != `"init"` {
				t.Fatalf("id = %s", r.ID)
			}
			var res struct {
				ProtocolVersion string                     `json:"protocolVersion"`
				Capabilities    map[string]json.RawMessage `json:"capabilities"`
				ServerInfo      struct {
					Name    string `json:"name"`
					Version string `json:"version"`
				} `json:"serverInfo"`
			}
			if err := json.Unmarshal(r.Result, &res); err != nil {
				t.Fatal(err)
			}
			if res.ProtocolVersion != tt.want {
				t.Fatalf("protocolVersion = %q, want %q", res.ProtocolVersion, tt.want)
			}
			if _, ok := res.Capabilities["tools"]; !ok {
				t.Fatalf("capabilities = %v, want tools", res.Capabilities)
			}
			if res.ServerInfo.Name != "rawprox" || res.ServerInfo.Version != "test" {
				t.Fatalf("serverInfo = %+v", res.ServerInfo)
			}
			if _, err := uuid.Parse(r.header.Get(SessionHeader)); err != nil {
				t.Fatalf("session header %q: %v", r.header.Get(SessionHeader), err)
			}
		})
	}
}

func TestToolsList(t *testing.T) {
	h := newHarness(t)

	r := h.post(t, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	var res struct {
		Tools []Tool `json:"tools"`
	}
	if err := json.Unmarshal(r.Result, &res); err != nil {
		t.Fatal(err)
	}

	want := []string{"start-logging", "stop-logging", "add-port-rule", "remove-port-rule", "shutdown"}
	if len(res.Tools) != len(want) {
		t.Fatalf("got %d tools, want %d", len(res.Tools), len(want))
	}
	for i, tool := range res.Tools {
		if tool.Name != want[i] {
			t.Fatalf("tool %d = %q, want %q", i, tool.Name, want[i])
		}
		if tool.Description == "" || tool.InputSchema["type"] != "object" {
			t.Fatalf("tool %q has incomplete metadata: %+v", tool.Name, tool)
		}
	}
}

func TestStartStopLogging(t *testing.T) {
	h := newHarness(t)
	dir := t.TempDir()

	if text := resultText(t, h.call(t, "start-logging", map[string]any{})); text != "Started logging to console" {
		t.Fatalf("text = %q", text)
	}
	text := resultText(t, h.call(t, "start-logging", map[string]any{"directory": dir, "filename_format": "cap_%Y.ndjson"}))
	if !strings.Contains(text, dir) || !strings.Contains(text, "cap_%Y.ndjson") {
		t.Fatalf("text = %q", text)
	}
	if got := len(h.logs.Destinations()); got != 2 {
		t.Fatalf("%d destinations enabled, want 2", got)
	}

	// Explicit null names the console.
	resultText(t, h.call(t, "stop-logging", map[string]any{"directory": nil}))
	dests := h.logs.Destinations()
	if len(dests) != 1 || dests[0].Directory != dir {
		t.Fatalf("destinations = %+v", dests)
	}

	wantCode(t, h.call(t, "stop-logging", map[string]any{"directory": nil}), CodeToolFailed)

	// No directory key stops everything.
	resultText(t, h.call(t, "start-logging", nil))
	text = resultText(t, h.call(t, "stop-logging", map[string]any{}))
	if !strings.Contains(text, "console") || !strings.Contains(text, dir) {
		t.Fatalf("text = %q", text)
	}
	if len(h.logs.Destinations()) != 0 {
		t.Fatalf("destinations = %+v", h.logs.Destinations())
	}

	recs := testutil.ParseLines(t, h.console.Bytes())
	var stops int
	for _, r := range recs {
		if r.String("event") == "stop-logging" {
			stops++
		}
	}
	if stops == 0 {
		t.Fatal("console never received a stop-logging event")
	}
}

func TestStartLoggingInvalidParams(t *testing.T) {
	h := newHarness(t)

	wantCode(t, h.call(t, "start-logging", map[string]any{"directory": 5}), CodeInvalidParams)
	wantCode(t, h.call(t, "start-logging", map[string]any{"filename_format": ""}), CodeInvalidParams)
	wantCode(t, h.call(t, "start-logging", map[string]any{"bogus": true}), CodeInvalidParams)
	wantCode(t, h.call(t, "stop-logging", map[string]any{"directory": 5}), CodeInvalidParams)
}

func TestAddPortRuleTwice(t *testing.T) {
	h := newHarness(t)
	port := freePort(t)
	args := map[string]any{"local_port": port, "target_host": "127.0.0.1", "target_port": 9}

	text := resultText(t, h.call(t, "add-port-rule", args))
	if !strings.Contains(text, strconv.Itoa(port)) {
		t.Fatalf("text = %q", text)
	}

	r := h.call(t, "add-port-rule", map[string]any{"local_port": port, "target_host": "example.com", "target_port": 80})
	wantCode(t, r, CodeToolFailed)
	if !strings.Contains(r.Error.Message, strconv.Itoa(port)) {
		t.Fatalf("error %q does not name port %d", r.Error.Message, port)
	}

	rules := h.rules.Rules()
	if len(rules) != 1 || rules[0].TargetHost != "127.0.0.1" {
		t.Fatalf("rules = %+v", rules)
	}
}

func TestAddPortRuleInvalidParams(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name string
		args map[string]any
	}{
		{"missing local port", map[string]any{"target_host": "h", "target_port": 1}},
		{"missing target host", map[string]any{"local_port": 1000, "target_port": 1}},
		{"port too large", map[string]any{"local_port": 70000, "target_host": "h", "target_port": 1}},
		{"port zero", map[string]any{"local_port": 1000, "target_host": "h", "target_port": 0}},
		{"port not a number", map[string]any{"local_port": "80", "target_host": "h", "target_port": 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wantCode(t, h.call(t, "add-port-rule", tt.args), CodeInvalidParams)
		})
	}
	if len(h.rules.Rules()) != 0 {
		t.Fatalf("rules = %+v", h.rules.Rules())
	}
}

func TestRemovePortRule(t *testing.T) {
	h := newHarness(t)
	port := freePort(t)

	wantCode(t, h.call(t, "remove-port-rule", map[string]any{"local_port": port}), CodeToolFailed)

	resultText(t, h.call(t, "add-port-rule", map[string]any{"local_port": port, "target_host": "127.0.0.1", "target_port": 9}))
	text := resultText(t, h.call(t, "remove-port-rule", map[string]any{"local_port": port}))
	if !strings.Contains(text, strconv.Itoa(port)) {
		t.Fatalf("text = %q", text)
	}
	if len(h.rules.Rules()) != 0 {
		t.Fatalf("rules = %+v", h.rules.Rules())
	}
}

func TestDirectMethodCall(t *testing.T) {
	h := newHarness(t)
	port := freePort(t)

	r := h.post(t, `{"jsonrpc":"2.0","id":7,"method":"add-port-rule","params":{"local_port":`+strconv.Itoa(port)+`,"target_host":"127.0.0.1","target_port":9}}`)
	resultText(t, r)
	if len(h.rules.Rules()) != 1 {
		t.Fatalf("rules = %+v", h.rules.Rules())
	}
}

func TestShutdownRespondsThenCallsBack(t *testing.T) {
	h := newHarness(t)

	if text := resultText(t, h.call(t, "shutdown", map[string]any{})); text != "Shutting down" {
		t.Fatalf("text = %q", text)
	}
	select {
	case <-h.shutdown:
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown callback not called")
	}

	// A second call must not invoke the callback again.
	resultText(t, h.call(t, "shutdown", nil))
}

func TestProtocolErrors(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"parse error", `{"jsonrpc":"2.0",`, CodeParseError},
		{"batch", `[{"jsonrpc":"2.0","id":1,"method":"ping"}]`, CodeInvalidRequest},
		{"wrong version", `{"jsonrpc":"1.0","id":1,"method":"ping"}`, CodeInvalidRequest},
		{"missing method", `{"jsonrpc":"2.0","id":1}`, CodeInvalidRequest},
		{"unknown method", `{"jsonrpc":"2.0","id":1,"method":"resources/list"}`, CodeMethodNotFound},
		{"unknown tool", `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"nope","arguments":{}}}`, CodeMethodNotFound},
		{"call without name", `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{}}`, CodeInvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wantCode(t, h.post(t, tt.body), tt.code)
		})
	}
}

func TestNotificationAndMethod(t *testing.T) {
	h := newHarness(t)

	resp, err := http.Post(h.ts.URL+Path, "application/json", strings.NewReader(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted || len(body) != 0 {
		t.Fatalf("notification: status %d body %q", resp.StatusCode, body)
	}

	resp, err = http.Get(h.ts.URL + Path)
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET status = %d, want 405", resp.StatusCode)
	}
}

func TestListenAnnouncesEndpoint(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	ln, err := h.srv.Listen(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}

	recs := testutil.ParseLines(t, h.console.Bytes())
	if len(recs) != 1 || recs[0].String("event") != "mcp-ready" {
		t.Fatalf("console = %q", h.console.Bytes())
	}
	endpoint := recs[0].String("endpoint")
	if endpoint != Endpoint(ln.Addr()) || !strings.HasPrefix(endpoint, "http://127.0.0.1:") {
		t.Fatalf("endpoint = %q", endpoint)
	}

	done := make(chan error, 1)
	go func() { done <- h.srv.Serve(ctx, ln) }()

	resp, err := http.Post(endpoint, "application/json", bytes.NewBufferString(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
