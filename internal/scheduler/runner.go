package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/neoclaw-ai/talkclaw/internal/logging"
)

// Sender delivers a notification to one chat on a channel.
type Sender interface {
	SendTo(ctx context.Context, target, text string) error
}

// Runner delivers reminders through the sender registered for their channel.
type Runner struct {
	senders map[string]Sender
	loc     *time.Location
}

// NewRunner builds a runner. loc controls how start times are rendered.
func NewRunner(senders map[string]Sender, loc *time.Location) *Runner {
	if loc == nil {
		loc = time.Local
	}
	return &Runner{senders: senders, loc: loc}
}

// Notify sends one reminder. A reminder for a channel with no registered
// sender is skipped without error.
func (r *Runner) Notify(ctx context.Context, rem Reminder) error {
	if r.senders == nil {
		return errors.New("reminder senders registry is not configured")
	}
	sender, ok := r.senders[rem.Channel]
	if !ok {
		logging.Logger().Warn(
			"reminder skipped: unknown channel",
			"reminder_id", rem.ID,
			"channel", rem.Channel,
		)
		return nil
	}
	return sender.SendTo(ctx, rem.Target, r.Format(rem))
}

// Format renders the reminder text.
func (r *Runner) Format(rem Reminder) string {
	text := fmt.Sprintf("⏰ 提醒：「%s」將於 %s 開始", rem.Title, rem.Start.In(r.loc).Format("01/02 15:04"))
	if rem.Link != "" {
		text += "\n" + rem.Link
	}
	return text
}
