// main.go — Entry point for axctl, a thin CLI over axd's local Unix-domain
// socket JSON-RPC protocol.
//
// Usage: axctl <method> [--key value ...] [--flags]
//
// Exit codes:
//   0 = success
//   1 = error (RPC call failed)
//   2 = usage error (missing args, invalid flags)
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/axbridge/axd/internal/bridge"
	"github.com/axbridge/axd/internal/model"
	"github.com/axbridge/axd/internal/state"
)

// version is set at build time via -ldflags.
var version = "0.1.0"

const usageText = `axctl — CLI interface for the axd accessibility daemon

Usage:
  axctl <method> [--key value ...] [--flags]

Global Flags:
  --socket <path>     Unix socket path (default: $HOME/.cua/sock)
  --remote <url>      Talk to a remote axd over HTTP instead of the local
                       socket, e.g. http://host:8787
  --bearer <token>    Bearer token for --remote
  --timeout <ms>      Request timeout in ms (default: 5000)
  --format <json|pretty>  Output format (default: pretty)
  --version           Show version
  --help              Show this help

Examples:
  axctl ping
  axctl snapshot --app Safari
  axctl act --app Safari --ref e12 --action click
  axctl events --app Safari --limit 20
`

func main() {
	os.Exit(run(os.Args[1:]))
}

// run is the entry point, separated from main for testability. Returns the
// process exit code.
func run(args []string) int {
	for _, a := range args {
		if a == "--version" || a == "-v" {
			fmt.Printf("axctl %s\n", version)
			return 0
		}
		if a == "--help" || a == "-h" {
			fmt.Print(usageText)
			return 0
		}
	}

	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usageText)
		return 2
	}

	method := args[0]
	flags, paramArgs := extractGlobalFlags(args[1:])

	timeout := 5000 * time.Millisecond
	if ms, ok := flags["timeout"]; ok {
		n, err := strconv.Atoi(ms)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid --timeout %q\n", ms)
			return 2
		}
		timeout = time.Duration(n) * time.Millisecond
	}

	params, err := paramsFromArgs(paramArgs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}

	var resp model.RPCResponse
	if remoteURL := flags["remote"]; remoteURL != "" {
		resp, err = callRemote(remoteURL, flags["bearer"], method, params, timeout)
	} else {
		sockPath := flags["socket"]
		if sockPath == "" {
			p, sErr := state.SockFile()
			if sErr != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", sErr)
				return 1
			}
			sockPath = p
		}
		resp, err = call(sockPath, method, params, timeout)
	}
	if err != nil {
		if bridge.IsConnectionError(err) {
			fmt.Fprintf(os.Stderr, "Error: axd does not appear to be running (%v)\n", err)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}

	format := flags["format"]
	if format == "" {
		format = "pretty"
	}
	if err := printResponse(resp, format); err != nil {
		fmt.Fprintf(os.Stderr, "Error: format output: %v\n", err)
		return 1
	}
	if resp.Error != nil {
		return 1
	}
	return 0
}

// extractGlobalFlags pulls recognised --key value flags out of args,
// returning the flag map and the remaining arguments untouched.
func extractGlobalFlags(args []string) (map[string]string, []string) {
	recognised := map[string]bool{
		"--socket": true, "--timeout": true, "--format": true,
		"--remote": true, "--bearer": true,
	}
	flags := make(map[string]string)
	var remaining []string

	for i := 0; i < len(args); i++ {
		if recognised[args[i]] && i+1 < len(args) {
			flags[strings.TrimPrefix(args[i], "--")] = args[i+1]
			i++
			continue
		}
		remaining = append(remaining, args[i])
	}
	return flags, remaining
}

// paramsFromArgs turns a flat --key value... list into a JSON params object.
// A bare flag with no following value is rejected as a usage error.
func paramsFromArgs(args []string) (json.RawMessage, error) {
	if len(args) == 0 {
		return nil, nil
	}
	obj := make(map[string]any, len(args)/2)
	for i := 0; i < len(args); i++ {
		if !strings.HasPrefix(args[i], "--") {
			return nil, fmt.Errorf("unexpected argument %q", args[i])
		}
		key := strings.TrimPrefix(args[i], "--")
		if i+1 >= len(args) {
			return nil, fmt.Errorf("flag --%s requires a value", key)
		}
		obj[key] = coerceValue(args[i+1])
		i++
	}
	return json.Marshal(obj)
}

// coerceValue interprets a CLI value as a bool or int where it unambiguously
// parses as one, falling back to a plain string.
func coerceValue(raw string) any {
	if raw == "true" || raw == "false" {
		return raw == "true"
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return n
	}
	return raw
}

// call dials sockPath, sends one JSON-RPC request, and reads back one
// response line.
func call(sockPath, method string, params json.RawMessage, timeout time.Duration) (model.RPCResponse, error) {
	conn, err := net.DialTimeout("unix", sockPath, timeout)
	if err != nil {
		return model.RPCResponse{}, fmt.Errorf("connect to axd at %s: %w", sockPath, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(timeout))

	req := model.RPCRequest{JSONRPC: "2.0", Method: method, Params: params, ID: model.NewRPCID(1)}
	line, err := json.Marshal(req)
	if err != nil {
		return model.RPCResponse{}, err
	}
	if _, err := conn.Write(append(line, '\n')); err != nil {
		return model.RPCResponse{}, fmt.Errorf("write request: %w", err)
	}

	reply, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return model.RPCResponse{}, fmt.Errorf("read response: %w", err)
	}
	var resp model.RPCResponse
	if err := json.Unmarshal(reply, &resp); err != nil {
		return model.RPCResponse{}, fmt.Errorf("malformed response: %w", err)
	}
	return resp, nil
}

// callRemote sends one JSON-RPC request to a remote axd's /rpc endpoint
// over HTTP, bearer-authenticated, instead of the local socket.
func callRemote(baseURL, bearer, method string, params json.RawMessage, timeout time.Duration) (model.RPCResponse, error) {
	req := model.RPCRequest{JSONRPC: "2.0", Method: method, Params: params, ID: model.NewRPCID(1)}
	line, err := json.Marshal(req)
	if err != nil {
		return model.RPCResponse{}, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var headers map[string]string
	if bearer != "" {
		headers = map[string]string{"Authorization": "Bearer " + bearer}
	}

	client := &http.Client{Timeout: timeout}
	httpResp, err := bridge.DoHTTP(ctx, client, strings.TrimRight(baseURL, "/")+"/rpc", line, headers)
	if err != nil {
		return model.RPCResponse{}, fmt.Errorf("remote request to %s: %w", baseURL, err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return model.RPCResponse{}, fmt.Errorf("read remote response: %w", err)
	}
	var resp model.RPCResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return model.RPCResponse{}, fmt.Errorf("malformed remote response: %w", err)
	}
	return resp, nil
}

func printResponse(resp model.RPCResponse, format string) error {
	if format == "json" {
		enc := json.NewEncoder(os.Stdout)
		return enc.Encode(resp)
	}

	if resp.Error != nil {
		fmt.Fprintf(os.Stderr, "error %d: %s\n", resp.Error.Code, resp.Error.Message)
		return nil
	}
	pretty, err := json.MarshalIndent(resp.Result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(pretty))
	return nil
}
