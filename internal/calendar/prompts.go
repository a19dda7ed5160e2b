package calendar

import (
	"fmt"
	"strings"
	"time"

	"github.com/neoclaw-ai/talkclaw/internal/provider"
)

const singleSystemPrompt = `你是行事曆助理，負責把使用者的一句話轉成一個行事曆事件。
規則：
- date 使用 YYYY-MM-DD，start 與 end 使用 24 小時制 HH:MM。
- 相對日期（今天、明天、下週一）以 current_date 為基準換算。
- 沒有提到結束時間時，預設持續一小時。
- end 必須晚於 start。
- title 簡短描述活動內容，不含日期與時間。`

const multiSystemPrompt = `你是行事曆助理，負責把使用者的一段話拆成多個行事曆事件。
規則：
- 依照事件發生的先後順序列出 events，count 等於 events 的數量。
- 每個事件的 date 使用 YYYY-MM-DD，start 與 end 使用 24 小時制 HH:MM。
- 相對日期（今天、明天、下週一）以 current_date 為基準換算；沒有日期的事件沿用前一個事件的日期。
- 沒有提到結束時間時，預設持續一小時。
- 每個事件的 end 必須晚於 start。`

func singleFormat() provider.ResponseFormat {
	return provider.ResponseFormat{
		Name:        "calendar_event",
		Description: "Record exactly one calendar event extracted from the user's request.",
		Schema:      eventSchema(),
	}
}

func multiFormat() provider.ResponseFormat {
	return provider.ResponseFormat{
		Name:        "calendar_events",
		Description: "Record every calendar event extracted from the user's request, in order.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"events": map[string]any{
					"type":  "array",
					"items": eventSchema(),
				},
				"count": map[string]any{"type": "integer"},
			},
			"required": []any{"events", "count"},
		},
	}
}

// requestContext renders the per-request facts the model needs: the user's
// words, the current date and time in the calendar timezone, and the output
// shape reminder.
func requestContext(userInput string, now time.Time, mode Mode) string {
	var b strings.Builder
	fmt.Fprintf(&b, "current_date: %s\n", now.Format(dateLayout))
	fmt.Fprintf(&b, "current_time: %s\n", now.Format(timeLayout))
	fmt.Fprintf(&b, "weekday: %s\n", now.Weekday())
	switch mode {
	case ModeMulti:
		b.WriteString("output: JSON object {\"events\": [{\"title\",\"date\",\"start\",\"end\"}...], \"count\": n}\n")
	default:
		b.WriteString("output: JSON object {\"title\",\"date\",\"start\",\"end\"}\n")
	}
	fmt.Fprintf(&b, "user_input: %s", userInput)
	return b.String()
}
