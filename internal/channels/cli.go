// Package channels provides runtime.Listener implementations for each supported input channel (CLI and Telegram).
package channels

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chzyer/readline"
	"github.com/neoclaw-ai/talkclaw/internal/approval"
	"github.com/neoclaw-ai/talkclaw/internal/runtime"
	"golang.org/x/term"
)

const (
	defaultReplPrompt    = "you> "
	defaultDispatchQueue = 20
	// Allow queued input to finish when stdin closes before shutting down the dispatcher.
	dispatchDrainTimeout = 5 * time.Second

	// CLIChannel names the terminal channel in messages and reminders.
	CLIChannel = "cli"
	cliUserID  = "local"
)

var (
	_ runtime.Listener  = (*CLIListener)(nil)
	_ runtime.Prompter  = (*CLIListener)(nil)
	_ approval.Approver = (*CLIListener)(nil)
)

// CLIWriter writes bot responses to terminal output.
type CLIWriter struct {
	mu  sync.Mutex
	out io.Writer
}

// WriteMessage writes one bot message.
func (w *CLIWriter) WriteMessage(_ context.Context, text string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := fmt.Fprintf(w.out, "talkclaw> %s\n\n", text)
	return err
}

// CLIListener listens for interactive terminal input and dispatches messages.
// Lines typed while a handler is waiting for a follow-up are delivered to
// that handler instead of being queued.
type CLIListener struct {
	in  io.Reader
	out io.Writer

	rl       *readline.Instance
	fallback *bufio.Reader

	writer *CLIWriter
	broker *runtime.PromptBroker
}

// NewCLI creates a new CLI listener over stdin/stdout style streams.
func NewCLI(in io.Reader, out io.Writer) *CLIListener {
	return &CLIListener{
		in:     in,
		out:    out,
		writer: &CLIWriter{out: out},
		broker: runtime.NewPromptBroker(),
	}
}

func (c *CLIListener) key() string {
	return CLIChannel + ":" + cliUserID
}

// Listen runs the interactive loop until EOF, /quit, /exit, or fatal input error.
func (c *CLIListener) Listen(ctx context.Context, handler runtime.Handler) error {
	if handler == nil {
		return fmt.Errorf("handler is required")
	}
	if err := c.ensureInputReady(); err != nil {
		return err
	}
	if c.rl != nil {
		defer c.rl.Close()
	}

	if _, err := fmt.Fprintln(c.out, "互動模式。輸入 /help 查看指令，/quit 或 /exit 離開。"); err != nil {
		return err
	}

	dispatchCtx, cancelDispatch := context.WithCancel(ctx)
	dispatcher := runtime.NewDispatcher(handler, defaultDispatchQueue)
	if err := dispatcher.Start(dispatchCtx); err != nil {
		cancelDispatch()
		return err
	}
	defer func() {
		cancelDispatch()
		dispatcher.Wait()
	}()

	inputCh := make(chan inputEvent)
	go c.readInputLoop(ctx, inputCh)

	for {
		select {
		case <-ctx.Done():
			dispatcher.Stop()
			return nil
		case event, ok := <-inputCh:
			if !ok {
				c.drainDispatcher(dispatcher)
				return nil
			}
			if event.err != nil {
				if errors.Is(event.err, io.EOF) {
					c.drainDispatcher(dispatcher)
					return nil
				}
				if errors.Is(event.err, context.Canceled) {
					dispatcher.Stop()
					return nil
				}
				return event.err
			}

			line := strings.TrimSpace(event.line)
			if c.broker.Deliver(c.key(), line) {
				continue
			}
			if line == "" {
				continue
			}

			switch strings.ToLower(line) {
			case "/quit", "/exit":
				dispatcher.Stop()
				c.writer.WriteMessage(ctx, "再見！")
				return nil
			}

			msg := &runtime.Message{Text: line, Channel: CLIChannel, UserID: cliUserID, Target: cliUserID}
			if err := dispatcher.Enqueue(ctx, msg, c.writer); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			}
		}
	}
}

func (c *CLIListener) drainDispatcher(dispatcher *runtime.Dispatcher) {
	drainCtx, cancel := context.WithTimeout(context.Background(), dispatchDrainTimeout)
	defer cancel()
	if err := dispatcher.WaitUntilIdle(drainCtx); err != nil {
		dispatcher.Stop()
	}
}

// Prompt shows req.Text and waits for the next typed line.
func (c *CLIListener) Prompt(ctx context.Context, req runtime.PromptRequest) (string, error) {
	if err := c.writer.WriteMessage(ctx, req.Text); err != nil {
		return "", err
	}
	return c.broker.Await(ctx, c.key(), req.Timeout)
}

// RequestApproval asks for a y/N answer on the next typed line. An expired
// or cancelled wait is a denial.
func (c *CLIListener) RequestApproval(ctx context.Context, req approval.ApprovalRequest) (approval.ApprovalDecision, error) {
	if err := ctx.Err(); err != nil {
		return approval.Denied, err
	}
	if err := c.writer.WriteMessage(ctx, approval.FormatApprovalPrompt(req)); err != nil {
		return approval.Denied, err
	}
	answer, err := c.broker.Await(ctx, c.key(), 0)
	if err != nil {
		if ctx.Err() != nil {
			return approval.Denied, nil
		}
		return approval.Denied, err
	}
	return approval.ParseAnswer(answer), nil
}

// SendTo prints an out-of-band notification such as a reminder. The CLI has
// a single user so target is ignored.
func (c *CLIListener) SendTo(ctx context.Context, _ string, text string) error {
	return c.writer.WriteMessage(ctx, text)
}

func (c *CLIListener) ensureInputReady() error {
	if c.rl != nil || c.fallback != nil {
		return nil
	}

	rl, err := newReadline(c.in, c.out)
	if err == nil {
		c.rl = rl
		return nil
	}

	c.fallback = bufio.NewReader(c.in)
	return nil
}

func (c *CLIListener) readLine(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if c.rl != nil {
		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				return "", io.EOF
			}
			return "", err
		}
		return line, nil
	}

	if _, err := fmt.Fprint(c.out, defaultReplPrompt); err != nil {
		return "", err
	}
	line, err := c.fallback.ReadString('\n')
	if err != nil {
		if len(line) > 0 {
			return line, nil
		}
		return "", err
	}
	return line, nil
}

func (c *CLIListener) readInputLoop(ctx context.Context, out chan<- inputEvent) {
	defer close(out)
	for {
		line, err := c.readLine(ctx)
		select {
		case out <- inputEvent{line: line, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

type inputEvent struct {
	line string
	err  error
}

func newReadline(in io.Reader, out io.Writer) (*readline.Instance, error) {
	stdin, ok := in.(io.ReadCloser)
	if !ok {
		return nil, fmt.Errorf("stdin is not read-closer")
	}
	inFile, ok := in.(*os.File)
	if !ok || !term.IsTerminal(int(inFile.Fd())) {
		return nil, fmt.Errorf("stdin is not terminal")
	}
	outFile, ok := out.(*os.File)
	if !ok || !term.IsTerminal(int(outFile.Fd())) {
		return nil, fmt.Errorf("stdout is not terminal")
	}

	return readline.NewEx(&readline.Config{
		Prompt:          defaultReplPrompt,
		HistoryFile:     filepath.Join(os.TempDir(), ".talkclaw_history"),
		HistoryLimit:    200,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		Stdin:           stdin,
		Stdout:          out,
		Stderr:          out,
	})
}
