// Package toolbuilder generates, validates, installs, and hot-registers
// new tools. A generated tool is a standalone Go program speaking the
// newline-delimited JSON-RPC tool protocol on stdin/stdout, the protocol
// MCP stdio servers speak; this package drives it with its own client.
package toolbuilder

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"
)

// killGrace is how long a child gets between SIGTERM and SIGKILL.
const killGrace = 5 * time.Second

// callTimeout bounds one tools/call round trip against a child.
const callTimeout = 60 * time.Second

// rpcRequest / rpcResponse are the line-protocol frames.
type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int64       `json:"id,omitempty"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// toolInfo is one entry of a tools/list result.
type toolInfo struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// contentItem is one element of a tools/call result's content list.
type contentItem struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// proc is one long-lived child process. Requests are serialized: the
// protocol is strictly one line out, one line back.
type proc struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader

	mu     sync.Mutex
	nextID int64
}

// startProc launches binary and performs the initialize handshake.
func startProc(ctx context.Context, binary string, args ...string) (*proc, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.WaitDelay = killGrace

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start tool process: %w", err)
	}

	p := &proc{cmd: cmd, stdin: stdin, stdout: bufio.NewReader(stdout)}

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := p.request(initCtx, "initialize", map[string]interface{}{
		"protocolVersion": "2024-11-05",
		"capabilities":    map[string]interface{}{},
		"clientInfo":      map[string]string{"name": "guenther", "version": "1.0"},
	}); err != nil {
		p.stop()
		return nil, fmt.Errorf("initialize handshake: %w", err)
	}
	if err := p.notify("notifications/initialized"); err != nil {
		p.stop()
		return nil, fmt.Errorf("initialized notification: %w", err)
	}
	return p, nil
}

// request sends one JSON-RPC request line and reads response lines until
// the matching id arrives (children may interleave notifications).
func (p *proc) request(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextID++
	id := p.nextID
	line, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	if _, err := p.stdin.Write(append(line, '\n')); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	type readResult struct {
		resp rpcResponse
		err  error
	}
	for {
		ch := make(chan readResult, 1)
		go func() {
			raw, err := p.stdout.ReadBytes('\n')
			if err != nil {
				ch <- readResult{err: err}
				return
			}
			var resp rpcResponse
			if err := json.Unmarshal(raw, &resp); err != nil {
				ch <- readResult{err: fmt.Errorf("parse response: %w", err)}
				return
			}
			ch <- readResult{resp: resp}
		}()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case r := <-ch:
			if r.err != nil {
				return nil, r.err
			}
			if r.resp.ID != id {
				continue
			}
			if r.resp.Error != nil {
				return nil, fmt.Errorf("tool process error %d: %s", r.resp.Error.Code, r.resp.Error.Message)
			}
			return r.resp.Result, nil
		}
	}
}

// notify sends a JSON-RPC notification (no id, no response expected).
func (p *proc) notify(method string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	line, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method})
	if err != nil {
		return err
	}
	_, err = p.stdin.Write(append(line, '\n'))
	return err
}

// listTools calls tools/list.
func (p *proc) listTools(ctx context.Context) ([]toolInfo, error) {
	raw, err := p.request(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}
	var result struct {
		Tools []toolInfo `json:"tools"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parse tools/list: %w", err)
	}
	return result.Tools, nil
}

// callTool calls tools/call and returns the content list.
func (p *proc) callTool(ctx context.Context, name string, args map[string]interface{}) ([]contentItem, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	raw, err := p.request(ctx, "tools/call", map[string]interface{}{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		return nil, err
	}
	var result struct {
		Content []contentItem `json:"content"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parse tools/call: %w", err)
	}
	return result.Content, nil
}

// stop terminates the child: close stdin (EOF is the polite shutdown
// signal), then rely on WaitDelay to escalate to SIGKILL.
func (p *proc) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.stdin.Close()
	if p.cmd.Process != nil {
		done := make(chan struct{})
		go func() {
			_, _ = p.cmd.Process.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(killGrace):
			_ = p.cmd.Process.Kill()
		}
	}
}
