// Package commands provides channel-agnostic slash command handling.
package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/shlex"
	"github.com/neoclaw-ai/talkclaw/internal/app"
	"github.com/neoclaw-ai/talkclaw/internal/approval"
	"github.com/neoclaw-ai/talkclaw/internal/costs"
	"github.com/neoclaw-ai/talkclaw/internal/logging"
	"github.com/neoclaw-ai/talkclaw/internal/runtime"
)

const helpText = `可用指令：
/add <描述> - 解析並建立行程（多個活動會先列出待確認）
/addmulti <描述> - 以多活動模式解析，列出待確認
/confirm - 建立待確認的活動
/cancel - 取消待確認的活動
/events [數量] - 列出即將到來的活動
/talk [角色] - 開始角色對話（預設 secretary）
/stop - 結束角色對話
/history - 顯示目前的對話紀錄
/characters - 列出角色
/character <名稱> - 查看角色完整資料與綁定內容
/scenes - 列出場景
/backgrounds - 列出背景草稿與 ID
/list characters|scenes|backgrounds - 列出自訂內容
/scene list|change <名稱>|info - 場景管理
/create character|scene|background - 建立自訂內容
/delete character|scene <名稱> - 刪除自訂內容
/bind <角色> [note|secret|motivation|event <內容>] - 綁定背景
/unbind <角色> <故事ID> - 移除綁定的故事
/background <角色> - 查看角色綁定的背景
/reset soft|hard|full - 重置系統（別名 /initialize）
/usage - 查看模型使用花費`

// stopWords end persona chat when sent as plain text.
var stopWords = map[string]struct{}{
	"停止": {}, "結束": {}, "離開": {},
	"exit": {}, "stop": {}, "quit": {}, "goodbye": {},
}

// SpendReporter reports model spend for /usage.
type SpendReporter interface {
	Spend(ctx context.Context, now time.Time) (costs.Spend, error)
}

// Options bounds the interactive flows.
type Options struct {
	CreateTimeout time.Duration
	DeleteTimeout time.Duration
	BindTimeout   time.Duration
}

// Handler dispatches supported slash commands against the application.
type Handler struct {
	app      *app.App
	prompter runtime.Prompter
	approver approval.Approver
	spend    SpendReporter
	opts     Options
	now      func() time.Time
}

// New creates a new slash command handler. prompter, approver and spend may
// be nil; the commands needing them then report that they are unavailable.
func New(a *app.App, prompter runtime.Prompter, approver approval.Approver, spend SpendReporter, opts Options) *Handler {
	return &Handler{
		app:      a,
		prompter: prompter,
		approver: approver,
		spend:    spend,
		opts:     opts,
		now:      time.Now,
	}
}

// command is one parsed slash command.
type command struct {
	name string
	// rest is the raw text after the command name.
	rest string
	args []string
}

func parseCommand(text string) (command, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return command{}, false
	}
	name, rest, _ := strings.Cut(text, " ")
	// Telegram appends @botname in groups.
	name, _, _ = strings.Cut(name, "@")
	rest = strings.TrimSpace(rest)

	args, err := shlex.Split(rest)
	if err != nil {
		args = strings.Fields(rest)
	}
	return command{name: strings.ToLower(name), rest: rest, args: args}, true
}

// Handle executes one command and reports whether it was handled. Text not
// starting with "/" is left for the next handler.
func (h *Handler) Handle(ctx context.Context, msg *runtime.Message, w runtime.ResponseWriter) (handled bool, err error) {
	if w == nil {
		return false, errors.New("response writer is required")
	}
	cmd, ok := parseCommand(msg.Text)
	if !ok {
		return false, nil
	}
	user := userOf(msg)
	logging.Logger().Debug("command received", "command", cmd.name, "user_id", msg.UserID, "channel", msg.Channel)

	switch cmd.name {
	case "/help", "/start", "/commands":
		return true, w.WriteMessage(ctx, helpText)
	case "/add":
		return true, h.handleAdd(ctx, w, user, cmd.rest, false)
	case "/addmulti":
		return true, h.handleAdd(ctx, w, user, cmd.rest, true)
	case "/confirm":
		return true, h.handleConfirm(ctx, w, user)
	case "/cancel":
		return true, h.handleCancel(ctx, w, user)
	case "/events":
		return true, h.handleEvents(ctx, w, cmd.args)
	case "/talk":
		return true, h.handleTalk(ctx, w, user, cmd.rest)
	case "/stop":
		return true, h.handleStop(ctx, w, user)
	case "/history":
		return true, h.handleHistory(ctx, w, user)
	case "/characters":
		return true, h.handleCharacters(ctx, w)
	case "/character":
		return true, h.handleCharacter(ctx, w, cmd.rest)
	case "/backgrounds":
		return true, h.handleBackgrounds(ctx, w)
	case "/list":
		return true, h.handleList(ctx, w, cmd.args)
	case "/scenes":
		return true, h.handleSceneList(ctx, w)
	case "/scene":
		return true, h.handleScene(ctx, w, cmd.args)
	case "/create":
		return true, h.handleCreate(ctx, w, cmd.args)
	case "/delete":
		return true, h.handleDelete(ctx, w, cmd.args)
	case "/bind":
		return true, h.handleBind(ctx, w, cmd.args)
	case "/unbind":
		return true, h.handleUnbind(ctx, w, cmd.args)
	case "/background":
		return true, h.handleBackground(ctx, w, cmd.rest)
	case "/reset", "/initialize":
		return true, h.handleReset(ctx, w, cmd.args)
	case "/usage":
		return true, h.handleUsage(ctx, w)
	default:
		return true, w.WriteMessage(ctx, fmt.Sprintf("未知指令：%s，輸入 /help 查看可用指令。", cmd.name))
	}
}

// HandleText treats plain text as a persona turn while the user is talking
// to a character, and as /add otherwise.
func (h *Handler) HandleText(ctx context.Context, w runtime.ResponseWriter, msg *runtime.Message) error {
	user := userOf(msg)
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return nil
	}
	if _, talking := h.app.Talking(user); !talking {
		return h.handleAdd(ctx, w, user, text, false)
	}
	if _, stop := stopWords[strings.ToLower(text)]; stop {
		return h.handleStop(ctx, w, user)
	}
	reply, err := h.app.Talk(ctx, user, text)
	if err != nil {
		return err
	}
	return w.WriteMessage(ctx, reply)
}

func (h *Handler) handleUsage(ctx context.Context, w runtime.ResponseWriter) error {
	if h.spend == nil {
		return w.WriteMessage(ctx, "未啟用花費追蹤。")
	}
	spend, err := h.spend.Spend(ctx, h.now())
	if err != nil {
		return fmt.Errorf("read spend: %w", err)
	}
	return w.WriteMessage(ctx, fmt.Sprintf("模型使用花費：今日 $%.4f，本月 $%.4f（共 %d 次呼叫）", spend.TodayUSD, spend.MonthUSD, spend.Calls))
}

// prompt asks the active user for one follow-up message.
func (h *Handler) prompt(ctx context.Context, text string, timeout time.Duration) (string, error) {
	if h.prompter == nil {
		return "", errors.New("interactive input is unavailable on this channel")
	}
	reply, err := h.prompter.Prompt(ctx, runtime.PromptRequest{Text: text, Timeout: timeout})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply), nil
}

// timeoutReply reports an expired interactive wait. Other errors propagate.
func timeoutReply(ctx context.Context, w runtime.ResponseWriter, err error) error {
	if errors.Is(err, runtime.ErrTimeout) {
		return w.WriteMessage(ctx, "⏰ 等待逾時，操作已取消。")
	}
	return err
}

func userOf(msg *runtime.Message) app.User {
	target := msg.Target
	if target == "" {
		target = msg.UserID
	}
	return app.User{Key: msg.Key(), Channel: msg.Channel, Target: target}
}

// Router dispatches slash commands before delegating to the next runtime.Handler.
type Router struct {
	Commands *Handler
	Next     runtime.Handler
}

// NewRouter routes commands to h and plain text to h.HandleText.
func NewRouter(h *Handler) Router {
	return Router{Commands: h, Next: textHandler{h}}
}

// HandleMessage runs command dispatch first, then forwards non-command input.
func (r Router) HandleMessage(ctx context.Context, w runtime.ResponseWriter, msg *runtime.Message) error {
	if msg == nil {
		return errors.New("message is required")
	}
	if r.Next == nil {
		return errors.New("next handler is required")
	}
	if r.Commands != nil {
		handled, err := r.Commands.Handle(ctx, msg, w)
		if handled || err != nil {
			return err
		}
	}
	return r.Next.HandleMessage(ctx, w, msg)
}

type textHandler struct {
	h *Handler
}

func (t textHandler) HandleMessage(ctx context.Context, w runtime.ResponseWriter, msg *runtime.Message) error {
	return t.h.HandleText(ctx, w, msg)
}
