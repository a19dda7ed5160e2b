package persona

import (
	"fmt"
	"strings"

	"github.com/neoclaw-ai/talkclaw/internal/character"
	"github.com/neoclaw-ai/talkclaw/internal/provider"
)

const conversationStart = "這是對話的開始。"

// Turn is everything needed to produce one in-character reply.
type Turn struct {
	Character character.CharacterTrait
	Scene     character.SceneSetting
	// Background is the enhanced prompt from the binding store. May be empty.
	Background string
	History    []Entry
	Input      string
}

// Composer renders the system prompt for a Turn.
type Composer struct {
	window int
}

// NewComposer returns a composer that includes the last window history
// entries.
func NewComposer(window int) *Composer {
	return &Composer{window: window}
}

// SystemPrompt renders the role-play instructions for a character.
func (c *Composer) SystemPrompt(ch character.CharacterTrait, background string) string {
	var b strings.Builder
	b.WriteString("你是一個專業的虛擬沙盒社會角色扮演AI。你現在正在扮演以下角色：\n\n")
	b.WriteString(ch.Prompt())
	b.WriteString(background)
	b.WriteString(`

角色扮演要求:
1. 嚴格保持角色的一致性
2. 根據角色的性格、價值觀和背景回應
3. 使用符合角色身份的說話風格
4. 可以適當展現角色的專業知識和興趣
5. 回應要自然、有深度，展現角色的思考過程
6. 可以提出問題、給予建議或分享見解
`)
	fmt.Fprintf(&b, "\n記住：你不是AI助手，你就是%s！", professionOrName(ch))
	return b.String()
}

// Compose renders the full prompt: role-play instructions, recent history,
// the current scene and the user's input.
func (c *Composer) Compose(t Turn) string {
	var b strings.Builder
	b.WriteString(c.SystemPrompt(t.Character, t.Background))
	b.WriteString("\n\n")
	b.WriteString(c.formatHistory(t.History))
	fmt.Fprintf(&b, "\n對話場景: %s\n\n", t.Scene.Prompt())
	fmt.Fprintf(&b, "用戶說: %s\n\n", t.Input)
	fmt.Fprintf(&b, "請以%s的身份回應，保持角色一致性:", professionOrName(t.Character))
	return b.String()
}

func (c *Composer) formatHistory(entries []Entry) string {
	if len(entries) > c.window {
		entries = entries[len(entries)-c.window:]
	}
	if len(entries) == 0 {
		return conversationStart + "\n"
	}
	var b strings.Builder
	b.WriteString("之前的對話:\n")
	for _, e := range entries {
		speaker := "角色"
		if e.Role == provider.RoleUser {
			speaker = "用戶"
		}
		fmt.Fprintf(&b, "%s: %s\n", speaker, e.Content)
	}
	return b.String()
}

func professionOrName(ch character.CharacterTrait) string {
	if p := strings.TrimSpace(ch.Profession); p != "" {
		return p
	}
	return ch.Name
}
