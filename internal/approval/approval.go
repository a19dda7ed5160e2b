// Package approval defines the Approver interface used to confirm destructive
// chat commands, and the allow-list of users permitted to talk to the bot.
package approval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/neoclaw-ai/talkclaw/internal/logging"
	"github.com/neoclaw-ai/talkclaw/internal/runtime"
)

// ErrDenied is returned by Require when the user rejects the action.
var ErrDenied = errors.New("action denied by user")

// Approver requests and returns user approval decisions.
type Approver interface {
	RequestApproval(ctx context.Context, req ApprovalRequest) (ApprovalDecision, error)
}

// ApprovalRequest describes a single approval prompt request.
type ApprovalRequest struct {
	// Action is a short machine name such as "delete_character".
	Action      string
	Description string
	Args        map[string]any
}

// ApprovalDecision is the user's decision for an approval request.
type ApprovalDecision int

const (
	// Approved indicates the action may proceed.
	Approved ApprovalDecision = iota
	// Denied indicates the action was explicitly rejected or never answered.
	Denied
)

func (d ApprovalDecision) String() string {
	switch d {
	case Approved:
		return "approved"
	case Denied:
		return "denied"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Require asks approver to confirm req and returns nil only when the user
// approves. A timeout of zero waits as long as ctx allows; when the timeout
// elapses first the result is runtime.ErrTimeout.
func Require(ctx context.Context, approver Approver, req ApprovalRequest, timeout time.Duration) error {
	if approver == nil {
		return fmt.Errorf("action %q requires approval but no approver is configured", req.Action)
	}
	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	decision, err := approver.RequestApproval(waitCtx, req)
	if ctx.Err() == nil && errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
		logging.Logger().Info("approval timed out", "action", req.Action)
		return runtime.ErrTimeout
	}
	if err != nil {
		return err
	}
	logging.Logger().Info("approval decided", "action", req.Action, "decision", decision)
	if decision != Approved {
		return ErrDenied
	}
	return nil
}

// ParseAnswer maps a typed reply to a decision. Anything not clearly yes is
// a denial.
func ParseAnswer(answer string) ApprovalDecision {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes", "是", "確認", "好":
		return Approved
	default:
		return Denied
	}
}
