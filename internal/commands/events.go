package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/neoclaw-ai/talkclaw/internal/app"
	"github.com/neoclaw-ai/talkclaw/internal/calendar"
	"github.com/neoclaw-ai/talkclaw/internal/runtime"
)

func (h *Handler) handleAdd(ctx context.Context, w runtime.ResponseWriter, user app.User, text string, forceMulti bool) error {
	if strings.TrimSpace(text) == "" {
		return w.WriteMessage(ctx, "用法：/add <活動描述>，例如 /add 明天下午三點到五點跟老師開會")
	}
	result := h.app.Process(ctx, text, forceMulti)
	if !result.Success {
		return w.WriteMessage(ctx, "❌ 無法解析活動："+result.Error)
	}

	if result.Count == 1 && !forceMulti {
		batch := h.app.CreateEvents(ctx, user, result.Plain())
		return w.WriteMessage(ctx, formatBatch(batch))
	}

	h.app.StagePending(user, result.Plain())
	var b strings.Builder
	b.WriteString(result.Summary)
	if result.Fallback {
		b.WriteString("（多活動解析失敗，已改用單一活動解析）")
	}
	b.WriteString("：\n")
	b.WriteString(formatIndexed(result.Events))
	b.WriteString("\n\n輸入 /confirm 建立以上活動，或 /cancel 取消。")
	return w.WriteMessage(ctx, b.String())
}

func (h *Handler) handleConfirm(ctx context.Context, w runtime.ResponseWriter, user app.User) error {
	batch, ok := h.app.Confirm(ctx, user)
	if !ok {
		return w.WriteMessage(ctx, "沒有待確認的活動。")
	}
	return w.WriteMessage(ctx, formatBatch(batch))
}

func (h *Handler) handleCancel(ctx context.Context, w runtime.ResponseWriter, user app.User) error {
	n := h.app.Cancel(user)
	if n == 0 {
		return w.WriteMessage(ctx, "沒有待確認的活動。")
	}
	return w.WriteMessage(ctx, fmt.Sprintf("已取消 %d 個待確認的活動。", n))
}

func (h *Handler) handleEvents(ctx context.Context, w runtime.ResponseWriter, args []string) error {
	n := 0
	if len(args) > 0 {
		parsed, err := strconv.Atoi(args[0])
		if err != nil || parsed <= 0 {
			return w.WriteMessage(ctx, "用法：/events [數量]")
		}
		n = parsed
	}
	events, err := h.app.ListEvents(ctx, n)
	if err != nil {
		return fmt.Errorf("list events: %w", err)
	}
	if len(events) == 0 {
		return w.WriteMessage(ctx, "📅 沒有即將到來的活動。")
	}
	var b strings.Builder
	b.WriteString("📅 即將到來的活動：")
	for i, e := range events {
		fmt.Fprintf(&b, "\n%d. %s %s-%s %s", i+1, e.Start.Format("01/02"), e.Start.Format("15:04"), e.End.Format("15:04"), e.Summary)
	}
	return w.WriteMessage(ctx, b.String())
}

func formatIndexed(events []calendar.IndexedEvent) string {
	lines := make([]string, 0, len(events))
	for _, e := range events {
		lines = append(lines, fmt.Sprintf("%d. %s %s %s", e.Index, e.Date, e.TimeRange, e.Title))
	}
	return strings.Join(lines, "\n")
}

func formatBatch(batch calendar.BatchResult) string {
	var b strings.Builder
	for _, c := range batch.Created {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "✅ 已建立：%s（%s %s-%s）", c.Summary, c.Start.Format("01/02"), c.Start.Format("15:04"), c.End.Format("15:04"))
		if c.Link != "" {
			fmt.Fprintf(&b, "\n%s", c.Link)
		}
	}
	for _, f := range batch.Failures {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "❌ 第 %d 個活動「%s」建立失敗：%v", f.Index, f.Event.Title, f.Err)
	}
	if b.Len() == 0 {
		return "沒有建立任何活動。"
	}
	return b.String()
}
