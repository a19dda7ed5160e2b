package commands

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/neoclaw-ai/talkclaw/internal/app"
	"github.com/neoclaw-ai/talkclaw/internal/approval"
	"github.com/neoclaw-ai/talkclaw/internal/character"
	"github.com/neoclaw-ai/talkclaw/internal/provider"
	"github.com/neoclaw-ai/talkclaw/internal/runtime"
)

const characterTemplate = `請輸入角色資料，每行一個「欄位: 值」：
名稱:
性格:
說話風格:
職業:
年齡:
性別:
價值觀:
興趣:
背景故事: `

const sceneTemplate = `請輸入場景資料，每行一個「欄位: 值」：
名稱:
地點:
氛圍:
時間:
天氣:
描述:
物件:
聲音: `

const backgroundTemplate = `請輸入背景故事，每行一個「欄位: 值」：
標題:
內容:
角色: `

func (h *Handler) handleTalk(ctx context.Context, w runtime.ResponseWriter, user app.User, ref string) error {
	if strings.TrimSpace(ref) == "" {
		ref = character.KeySecretary
	}
	_, c, err := h.app.StartTalk(user, ref)
	if errors.Is(err, app.ErrNoCharacter) {
		return w.WriteMessage(ctx, fmt.Sprintf("找不到角色「%s」。可用角色：%s", ref, strings.Join(h.app.Registry().CharacterKeys(), ", ")))
	}
	if err != nil {
		return err
	}
	scene := h.app.Scene()
	return w.WriteMessage(ctx, fmt.Sprintf("💬 現在與 %s（%s）在「%s」對話。輸入 /stop 或「結束」離開。", c.Name, c.Profession, scene.Name))
}

func (h *Handler) handleStop(ctx context.Context, w runtime.ResponseWriter, user app.User) error {
	if !h.app.StopTalk(user) {
		return w.WriteMessage(ctx, "目前沒有進行中的角色對話。")
	}
	return w.WriteMessage(ctx, "👋 已結束角色對話。")
}

func (h *Handler) handleHistory(ctx context.Context, w runtime.ResponseWriter, user app.User) error {
	entries := h.app.History(user)
	if len(entries) == 0 {
		return w.WriteMessage(ctx, "尚無對話紀錄。")
	}
	var b strings.Builder
	b.WriteString("📝 對話紀錄：")
	for _, e := range entries {
		speaker := "你"
		if e.Role == provider.RoleAssistant {
			speaker = e.Character
		}
		fmt.Fprintf(&b, "\n%s: %s", speaker, e.Content)
	}
	return w.WriteMessage(ctx, b.String())
}

func (h *Handler) handleCharacters(ctx context.Context, w runtime.ResponseWriter) error {
	reg := h.app.Registry()
	chars := reg.Characters()
	var b strings.Builder
	b.WriteString("🎭 可用角色：")
	for _, key := range reg.CharacterKeys() {
		c := chars[key]
		fmt.Fprintf(&b, "\n• %s - %s（%s）", key, c.Name, c.Profession)
	}
	return w.WriteMessage(ctx, b.String())
}

// bindingPreviewLines caps the binding summary shown by /character.
const bindingPreviewLines = 10

func (h *Handler) handleCharacter(ctx context.Context, w runtime.ResponseWriter, ref string) error {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return w.WriteMessage(ctx, "用法：/character <名稱>，例如 /character 林秘書")
	}
	key, c, ok := h.app.Registry().Character(ref)
	if !ok {
		return w.WriteMessage(ctx, fmt.Sprintf("找不到角色「%s」。", ref))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🎭 角色詳細資訊：%s（%s）\n%s", c.Name, key, c.Prompt())
	if summary, ok := h.app.BackgroundSummary(c.Name); ok {
		lines := strings.Split(strings.TrimRight(summary, "\n"), "\n")
		if len(lines) > bindingPreviewLines {
			lines = append(lines[:bindingPreviewLines], "...")
		}
		b.WriteString("\n\n🔗 綁定內容：\n")
		b.WriteString(strings.Join(lines, "\n"))
	} else {
		b.WriteString("\n\n🔗 尚未綁定任何背景。")
	}
	return w.WriteMessage(ctx, b.String())
}

func (h *Handler) handleBackgrounds(ctx context.Context, w runtime.ResponseWriter) error {
	drafts := h.app.Registry().Backgrounds()
	if len(drafts) == 0 {
		return w.WriteMessage(ctx, "📭 還沒有任何背景草稿。使用 /create background 建立。")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "📚 背景草稿（共 %d 個）：", len(drafts))
	for _, rec := range drafts {
		fmt.Fprintf(&b, "\n• %s - %s", rec.ID, rec.Title)
		if rec.Character != "" {
			fmt.Fprintf(&b, "（%s）", rec.Character)
		}
		fmt.Fprintf(&b, "\n  %s", preview(rec.Content, 30))
	}
	b.WriteString("\n使用 /bind <角色> 並輸入 ID 綁定。")
	return w.WriteMessage(ctx, b.String())
}

func (h *Handler) handleList(ctx context.Context, w runtime.ResponseWriter, args []string) error {
	if len(args) == 0 {
		return w.WriteMessage(ctx, "用法：/list characters|scenes|backgrounds")
	}
	switch strings.ToLower(args[0]) {
	case "characters":
		return h.handleCharacters(ctx, w)
	case "scenes":
		return h.handleSceneList(ctx, w)
	case "backgrounds":
		return h.handleBackgrounds(ctx, w)
	default:
		return w.WriteMessage(ctx, "用法：/list characters|scenes|backgrounds")
	}
}

func preview(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}

func (h *Handler) handleSceneList(ctx context.Context, w runtime.ResponseWriter) error {
	reg := h.app.Registry()
	current := h.app.Scene().Name
	var b strings.Builder
	b.WriteString("🏞️ 可用場景：")
	for _, name := range reg.SceneNames() {
		fmt.Fprintf(&b, "\n• %s", name)
		if reg.IsCustomScene(name) {
			b.WriteString("（自訂）")
		}
		if name == current {
			b.WriteString(" ← 目前")
		}
	}
	return w.WriteMessage(ctx, b.String())
}

func (h *Handler) handleScene(ctx context.Context, w runtime.ResponseWriter, args []string) error {
	if len(args) == 0 {
		return w.WriteMessage(ctx, "用法：/scene list|change <名稱>|info")
	}
	switch strings.ToLower(args[0]) {
	case "list":
		return h.handleSceneList(ctx, w)
	case "info":
		scene := h.app.Scene()
		return w.WriteMessage(ctx, fmt.Sprintf("📍 目前場景：%s\n%s", scene.Name, scene.Prompt()))
	case "change":
		name := strings.Join(args[1:], " ")
		if name == "" {
			return w.WriteMessage(ctx, "用法：/scene change <名稱>")
		}
		scene, err := h.app.ChangeScene(name)
		if errors.Is(err, app.ErrNoScene) {
			return w.WriteMessage(ctx, fmt.Sprintf("找不到場景「%s」。", name))
		}
		if err != nil {
			return err
		}
		return w.WriteMessage(ctx, fmt.Sprintf("✅ 場景已切換為「%s」。", scene.Name))
	default:
		return w.WriteMessage(ctx, "用法：/scene list|change <名稱>|info")
	}
}

func (h *Handler) handleCreate(ctx context.Context, w runtime.ResponseWriter, args []string) error {
	if len(args) == 0 {
		return w.WriteMessage(ctx, "用法：/create character|scene|background")
	}
	reg := h.app.Registry()

	switch strings.ToLower(args[0]) {
	case "character":
		text, err := h.prompt(ctx, characterTemplate, h.opts.CreateTimeout)
		if err != nil {
			return timeoutReply(ctx, w, err)
		}
		draft, err := character.ParseCharacterDraft(text)
		if err != nil {
			return w.WriteMessage(ctx, "❌ 角色資料格式錯誤："+err.Error())
		}
		c, err := reg.CreateCharacter(draft)
		if err != nil {
			return createFailed(ctx, w, err)
		}
		return w.WriteMessage(ctx, fmt.Sprintf("✅ 已建立角色「%s」，使用 /talk %s 開始對話。", c.Name, c.Name))
	case "scene":
		text, err := h.prompt(ctx, sceneTemplate, h.opts.CreateTimeout)
		if err != nil {
			return timeoutReply(ctx, w, err)
		}
		draft, err := character.ParseSceneDraft(text)
		if err != nil {
			return w.WriteMessage(ctx, "❌ 場景資料格式錯誤："+err.Error())
		}
		s, err := reg.CreateScene(draft)
		if err != nil {
			return createFailed(ctx, w, err)
		}
		return w.WriteMessage(ctx, fmt.Sprintf("✅ 已建立場景「%s」，使用 /scene change %s 切換。", s.Name, s.Name))
	case "background":
		text, err := h.prompt(ctx, backgroundTemplate, h.opts.CreateTimeout)
		if err != nil {
			return timeoutReply(ctx, w, err)
		}
		draft, err := character.ParseBackgroundDraft(text)
		if err != nil {
			return w.WriteMessage(ctx, "❌ 背景資料格式錯誤："+err.Error())
		}
		rec, err := reg.CreateBackground(draft.Title, draft.Content, draft.Character)
		if err != nil {
			return createFailed(ctx, w, err)
		}
		return w.WriteMessage(ctx, fmt.Sprintf("✅ 已建立背景「%s」（ID: %s），使用 /bind <角色> 後輸入此 ID 綁定。", rec.Title, rec.ID))
	default:
		return w.WriteMessage(ctx, "用法：/create character|scene|background")
	}
}

func createFailed(ctx context.Context, w runtime.ResponseWriter, err error) error {
	var regErr *character.RegistryError
	if errors.As(err, &regErr) {
		return w.WriteMessage(ctx, "❌ 建立失敗："+regErr.Error())
	}
	return err
}

func (h *Handler) handleDelete(ctx context.Context, w runtime.ResponseWriter, args []string) error {
	if len(args) < 2 {
		return w.WriteMessage(ctx, "用法：/delete character|scene <名稱>")
	}
	kind := strings.ToLower(args[0])
	name := strings.Join(args[1:], " ")
	reg := h.app.Registry()

	var req approval.ApprovalRequest
	switch kind {
	case "character":
		key, c, ok := reg.Character(name)
		if !ok {
			return w.WriteMessage(ctx, fmt.Sprintf("找不到角色「%s」。", name))
		}
		if !strings.HasPrefix(key, character.CustomPrefix) {
			return w.WriteMessage(ctx, fmt.Sprintf("「%s」是內建角色，無法刪除。", c.Name))
		}
		name = c.Name
		req = approval.ApprovalRequest{Action: "delete_character", Description: fmt.Sprintf("確定要刪除角色「%s」嗎？", name), Args: map[string]any{"name": name}}
	case "scene":
		if !reg.IsCustomScene(name) {
			return w.WriteMessage(ctx, fmt.Sprintf("「%s」不是自訂場景，無法刪除。", name))
		}
		req = approval.ApprovalRequest{Action: "delete_scene", Description: fmt.Sprintf("確定要刪除場景「%s」嗎？", name), Args: map[string]any{"name": name}}
	default:
		return w.WriteMessage(ctx, "用法：/delete character|scene <名稱>")
	}

	if err := approval.Require(ctx, h.approver, req, h.opts.DeleteTimeout); err != nil {
		if errors.Is(err, approval.ErrDenied) {
			return w.WriteMessage(ctx, "已取消刪除。")
		}
		return timeoutReply(ctx, w, err)
	}

	var deleted bool
	var err error
	if kind == "character" {
		deleted, err = reg.DeleteCharacter(name)
	} else {
		deleted, err = h.app.DeleteScene(name)
	}
	if err != nil {
		return err
	}
	if !deleted {
		return w.WriteMessage(ctx, fmt.Sprintf("「%s」已不存在。", name))
	}
	return w.WriteMessage(ctx, fmt.Sprintf("🗑️ 已刪除「%s」。", name))
}

func (h *Handler) handleBind(ctx context.Context, w runtime.ResponseWriter, args []string) error {
	if len(args) == 0 {
		return w.WriteMessage(ctx, "用法：/bind <角色> [note|secret|motivation|event <內容>]")
	}
	ref := args[0]
	if _, _, ok := h.app.Registry().Character(ref); !ok {
		return w.WriteMessage(ctx, fmt.Sprintf("找不到角色「%s」。", ref))
	}

	if len(args) >= 3 {
		text := strings.Join(args[2:], " ")
		if strings.EqualFold(args[1], "event") {
			name, err := h.app.BindEvent(ref, character.StoryEvent{Title: text, EventType: character.EventCustom})
			if err != nil {
				return err
			}
			return w.WriteMessage(ctx, fmt.Sprintf("✅ 已為 %s 加入個人事件「%s」。", name, text))
		}
		kind, err := app.ParseNoteKind(args[1])
		if err != nil {
			return w.WriteMessage(ctx, "類型必須是 note、secret、motivation 或 event。")
		}
		name, err := h.app.BindNote(ref, kind, text)
		if err != nil {
			return err
		}
		return w.WriteMessage(ctx, fmt.Sprintf("✅ 已為 %s 記錄%s。", name, noteLabel(kind)))
	}
	if len(args) == 2 {
		return w.WriteMessage(ctx, "用法：/bind <角色> note|secret|motivation|event <內容>")
	}

	text, err := h.prompt(ctx, "請輸入背景 ID（由 /create background 建立），或直接輸入：\n"+backgroundTemplate, h.opts.BindTimeout)
	if err != nil {
		return timeoutReply(ctx, w, err)
	}
	rec, ok := h.app.Registry().Background(text)
	if !ok {
		draft, err := character.ParseBackgroundDraft(text)
		if err != nil {
			return w.WriteMessage(ctx, "❌ 背景資料格式錯誤："+err.Error())
		}
		rec = character.BackgroundRecord{Title: draft.Title, Content: draft.Content, Character: draft.Character}
	}
	id, name, err := h.app.BindBackground(ref, rec)
	if err != nil {
		return err
	}
	return w.WriteMessage(ctx, fmt.Sprintf("✅ 已將「%s」綁定到 %s（故事 ID: %s）。", rec.Title, name, id))
}

func noteLabel(kind app.NoteKind) string {
	switch kind {
	case app.NoteSecret:
		return "秘密"
	case app.NoteMotivation:
		return "動機"
	default:
		return "角色發展"
	}
}

func (h *Handler) handleUnbind(ctx context.Context, w runtime.ResponseWriter, args []string) error {
	if len(args) != 2 {
		return w.WriteMessage(ctx, "用法：/unbind <角色> <故事ID>")
	}
	if !h.app.Unbind(args[0], args[1]) {
		return w.WriteMessage(ctx, fmt.Sprintf("找不到 %s 的故事 %s。", args[0], args[1]))
	}
	return w.WriteMessage(ctx, fmt.Sprintf("🗑️ 已移除故事 %s。", args[1]))
}

func (h *Handler) handleBackground(ctx context.Context, w runtime.ResponseWriter, ref string) error {
	if strings.TrimSpace(ref) == "" {
		return w.WriteMessage(ctx, "用法：/background <角色>")
	}
	summary, ok := h.app.BackgroundSummary(ref)
	if !ok {
		return w.WriteMessage(ctx, fmt.Sprintf("「%s」尚未綁定任何背景。", ref))
	}
	return w.WriteMessage(ctx, summary)
}

func (h *Handler) handleReset(ctx context.Context, w runtime.ResponseWriter, args []string) error {
	tier := app.TierSoft
	if len(args) > 0 {
		tier = app.Tier(args[0])
	}
	result := h.app.Reset(ctx, tier)
	if !result.Success {
		return w.WriteMessage(ctx, "❌ 重置失敗："+result.Error)
	}

	keys := make([]string, 0, len(result.Details))
	for k := range result.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString("🔄 " + result.Message)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n• %s: %d", k, result.Details[k])
	}
	return w.WriteMessage(ctx, b.String())
}
