package sdkrunner

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/discode/discode/internal/common/logger"
	"github.com/discode/discode/internal/events"
)

// EventSink receives hook envelopes emitted by a runner's agent process.
// Wired to the pipeline so SDK agents feed the same path as HTTP hooks.
type EventSink func(ctx context.Context, event *events.Envelope) error

// rpcRequest is one newline-delimited JSON-RPC 2.0 request on stdin.
type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// rpcMessage is any inbound line: a response (ID set) or a notification.
type rpcMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// promptParams is the payload of a session/prompt request.
type promptParams struct {
	Text string `json:"text"`
}

// ProcessRunner hosts one agent as a child process speaking newline-delimited
// JSON-RPC on stdin/stdout. Prompts go out as session/prompt requests; the
// agent reports progress back with hook/event notifications, which are fed
// into the pipeline.
type ProcessRunner struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	requestID atomic.Int64
	mu        sync.Mutex
	pending   map[int64]chan *rpcMessage

	sink     EventSink
	logger   *logger.Logger
	done     chan struct{}
	stopOnce sync.Once
}

var _ Runner = (*ProcessRunner)(nil)

// StartProcessRunner launches command (argv form) in dir and begins reading
// its notifications. The sink receives every hook/event the agent emits.
func StartProcessRunner(ctx context.Context, command []string, dir string, sink EventSink, log *logger.Logger) (*ProcessRunner, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("empty runner command")
	}

	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	cmd.Dir = dir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %q: %w", command[0], err)
	}

	r := &ProcessRunner{
		cmd:     cmd,
		stdin:   stdin,
		stdout:  stdout,
		pending: make(map[int64]chan *rpcMessage),
		sink:    sink,
		logger: log.WithFields(
			zap.String("component", "process-runner"),
			zap.String("command", command[0])),
		done: make(chan struct{}),
	}
	go r.readLoop()
	return r, nil
}

// SubmitMessage delivers one user prompt and waits for the agent to accept it.
func (r *ProcessRunner) SubmitMessage(ctx context.Context, text string) error {
	resp, err := r.call(ctx, "session/prompt", promptParams{Text: text})
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return fmt.Errorf("agent rejected prompt: %s (%d)", resp.Error.Message, resp.Error.Code)
	}
	return nil
}

// Stop closes the agent's stdin and waits for the process to exit.
func (r *ProcessRunner) Stop() error {
	r.stopOnce.Do(func() {
		close(r.done)
		r.stdin.Close()
	})
	return r.cmd.Wait()
}

func (r *ProcessRunner) call(ctx context.Context, method string, params interface{}) (*rpcMessage, error) {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}

	id := r.requestID.Add(1)
	respCh := make(chan *rpcMessage, 1)
	r.mu.Lock()
	r.pending[id] = respCh
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.pending, id)
		r.mu.Unlock()
	}()

	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: paramsJSON}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	data = append(data, '\n')
	if _, err := r.stdin.Write(data); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	select {
	case resp := <-respCh:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.done:
		return nil, fmt.Errorf("runner stopped")
	}
}

func (r *ProcessRunner) readLoop() {
	scanner := bufio.NewScanner(r.stdout)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		select {
		case <-r.done:
			return
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var msg rpcMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			r.logger.Warn("unparseable runner output", zap.ByteString("line", line))
			continue
		}

		if msg.ID != nil {
			r.mu.Lock()
			ch, ok := r.pending[*msg.ID]
			r.mu.Unlock()
			if ok {
				ch <- &msg
			} else {
				r.logger.Debug("response for unknown request", zap.Int64("id", *msg.ID))
			}
			continue
		}

		if msg.Method == "hook/event" {
			r.handleHookEvent(msg.Params)
			continue
		}
		r.logger.Debug("ignoring runner notification", zap.String("method", msg.Method))
	}

	if err := scanner.Err(); err != nil {
		r.logger.Warn("runner read loop ended", zap.Error(err))
	}
}

func (r *ProcessRunner) handleHookEvent(params json.RawMessage) {
	var event events.Envelope
	if err := json.Unmarshal(params, &event); err != nil {
		r.logger.Warn("malformed hook/event notification", zap.Error(err))
		return
	}
	if r.sink == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := r.sink(ctx, &event); err != nil {
		r.logger.WithError(err).Warn("hook event rejected",
			zap.String("type", event.Type))
	}
}
