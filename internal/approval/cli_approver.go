package approval

import (
	"bufio"
	"context"
	"fmt"
	"io"
)

// CLIApprover prompts for y/n approvals on a plain reader and writer. It is
// used when no interactive listener owns the terminal, e.g. one-shot CLI
// commands.
type CLIApprover struct {
	in  *bufio.Reader
	out io.Writer
}

func NewCLIApprover(in io.Reader, out io.Writer) *CLIApprover {
	return &CLIApprover{
		in:  bufio.NewReader(in),
		out: out,
	}
}

func (a *CLIApprover) RequestApproval(ctx context.Context, req ApprovalRequest) (ApprovalDecision, error) {
	if err := ctx.Err(); err != nil {
		return Denied, err
	}
	if _, err := fmt.Fprint(a.out, FormatApprovalPrompt(req)); err != nil {
		return Denied, err
	}

	answer, err := a.in.ReadString('\n')
	if err != nil && answer == "" {
		return Denied, err
	}
	return ParseAnswer(answer), nil
}
