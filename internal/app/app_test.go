package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/neoclaw-ai/talkclaw/internal/binding"
	"github.com/neoclaw-ai/talkclaw/internal/calendar"
	"github.com/neoclaw-ai/talkclaw/internal/character"
	"github.com/neoclaw-ai/talkclaw/internal/costs"
	"github.com/neoclaw-ai/talkclaw/internal/persona"
	"github.com/neoclaw-ai/talkclaw/internal/provider"
	"github.com/neoclaw-ai/talkclaw/internal/scheduler"
	"github.com/neoclaw-ai/talkclaw/internal/store"
)

// scriptedModel answers extraction requests by response name and persona
// requests with a fixed reply.
type scriptedModel struct {
	mu       sync.Mutex
	single   string
	multi    string
	reply    string
	replyErr error
}

func (m *scriptedModel) Chat(_ context.Context, req provider.ChatRequest) (*provider.ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if req.Response == nil {
		if m.replyErr != nil {
			return nil, m.replyErr
		}
		return &provider.ChatResponse{Content: m.reply}, nil
	}
	switch req.Response.Name {
	case "calendar_event":
		return &provider.ChatResponse{Structured: json.RawMessage(m.single)}, nil
	case "calendar_events":
		return &provider.ChatResponse{Structured: json.RawMessage(m.multi)}, nil
	}
	return nil, fmt.Errorf("unexpected response %q", req.Response.Name)
}

type fixture struct {
	app       *App
	model     *scriptedModel
	records   *store.Records
	reminders *scheduler.Store
	dir       string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	loc, err := time.LoadLocation("Asia/Taipei")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}

	model := &scriptedModel{
		single: `{"title":"看牙醫","date":"2099-05-01","start":"09:00","end":"10:00"}`,
		multi: `{"events":[
			{"title":"開會","date":"2099-05-01","start":"09:00","end":"10:00"},
			{"title":"午餐","date":"2099-05-01","start":"12:00","end":"13:00"}
		],"count":2}`,
		reply: "好的，我會安排。",
	}
	records := store.NewRecords(filepath.Join(dir, "custom"))
	registry, err := character.NewRegistry(records)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	extractor, err := calendar.NewExtractor(model, loc)
	if err != nil {
		t.Fatalf("extractor: %v", err)
	}
	backend, err := calendar.NewLocalBackend(filepath.Join(dir, "calendar"), loc)
	if err != nil {
		t.Fatalf("backend: %v", err)
	}
	reminders := scheduler.NewStore(filepath.Join(dir, "reminders.json"))

	a, err := New(Deps{
		Registry:  registry,
		Bindings:  binding.New(),
		Extractor: extractor,
		Backend:   backend,
		Responder: persona.NewResponder(model, persona.NewComposer(5), 300, 50),
		Reminders: reminders,
	}, Options{
		CalendarID:    "primary",
		ListLimit:     10,
		HistoryLimit:  20,
		HistoryWindow: 5,
		SessionsDir:   filepath.Join(dir, "sessions"),
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return &fixture{app: a, model: model, records: records, reminders: reminders, dir: dir}
}

var alice = User{Key: "telegram:1", Channel: "telegram", Target: "1"}
var bob = User{Key: "telegram:2", Channel: "telegram", Target: "2"}

func TestStageConfirmCreatesEventsAndReminders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result := f.app.Process(ctx, "明天九點開會，然後十二點吃午餐", false)
	if !result.Success || result.Count != 2 {
		t.Fatalf("expected two extracted events, got %+v", result)
	}
	f.app.StagePending(alice, result.Plain())
	if got := f.app.Pending(bob); len(got) != 0 {
		t.Fatalf("expected staged events to be per user, bob sees %v", got)
	}

	batch, ok := f.app.Confirm(ctx, alice)
	if !ok || len(batch.Created) != 2 || len(batch.Failures) != 0 {
		t.Fatalf("unexpected confirm result ok=%v %+v", ok, batch)
	}
	if _, ok := f.app.Confirm(ctx, alice); ok {
		t.Fatalf("expected second confirm to find nothing staged")
	}

	events, err := f.app.ListEvents(ctx, 0)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 || events[0].Summary != "開會" {
		t.Fatalf("unexpected listed events %+v", events)
	}
	pending, err := f.reminders.Pending(ctx)
	if err != nil {
		t.Fatalf("reminders: %v", err)
	}
	if len(pending) != 2 || pending[0].Target != "1" {
		t.Fatalf("expected reminders for alice, got %+v", pending)
	}
}

func TestCancelDiscardsStaged(t *testing.T) {
	f := newFixture(t)
	f.app.StagePending(alice, []calendar.Event{{Title: "a", Date: "2099-01-01", Start: "09:00", End: "10:00"}})
	if n := f.app.Cancel(alice); n != 1 {
		t.Fatalf("expected one cancelled event, got %d", n)
	}
	if _, ok := f.app.Confirm(context.Background(), alice); ok {
		t.Fatalf("expected nothing to confirm after cancel")
	}
}

func TestConfirmReportsPerEventFailures(t *testing.T) {
	f := newFixture(t)
	f.app.StagePending(alice, []calendar.Event{
		{Title: "ok", Date: "2099-01-01", Start: "09:00", End: "10:00"},
		{Title: "bad", Date: "2099-01-01", Start: "25:00", End: "26:00"},
	})
	batch, ok := f.app.Confirm(context.Background(), alice)
	if !ok || len(batch.Created) != 1 || len(batch.Failures) != 1 || batch.Failures[0].Index != 2 {
		t.Fatalf("unexpected batch %+v", batch)
	}
}

func TestTalkRecordsHistoryAndDevelopment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, _, err := f.app.StartTalk(alice, "nobody"); !errors.Is(err, ErrNoCharacter) {
		t.Fatalf("expected ErrNoCharacter, got %v", err)
	}
	key, c, err := f.app.StartTalk(alice, character.KeySecretary)
	if err != nil || key != character.KeySecretary || c.Name != "林秘書" {
		t.Fatalf("start talk: key=%q err=%v", key, err)
	}

	f.model.reply = strings.Repeat("好", 60)
	reply, err := f.app.Talk(ctx, alice, strings.Repeat("問", 60))
	if err != nil {
		t.Fatalf("talk: %v", err)
	}
	if reply != f.model.reply {
		t.Fatalf("unexpected reply %q", reply)
	}
	if got := f.app.History(alice); len(got) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(got))
	}
	bg, ok := f.app.Background("林秘書")
	if !ok || len(bg.Arc) != 1 || !strings.HasPrefix(bg.Arc[0].Note, "與用戶討論了: ") {
		t.Fatalf("expected development note, got %+v", bg)
	}

	if !f.app.StopTalk(alice) {
		t.Fatalf("expected stop talk to report active conversation")
	}
	if _, err := f.app.Talk(ctx, alice, "hi"); err == nil {
		t.Fatalf("expected talk outside persona mode to fail")
	}
}

func TestTalkModelFailureApologises(t *testing.T) {
	f := newFixture(t)
	f.model.replyErr = &provider.ModelError{Provider: "fake", Err: errors.New("down")}
	if _, _, err := f.app.StartTalk(alice, "小美"); err != nil {
		t.Fatalf("start talk: %v", err)
	}
	reply, err := f.app.Talk(context.Background(), alice, "嗨")
	if err != nil || reply != persona.Unavailable {
		t.Fatalf("expected apology, got %q err=%v", reply, err)
	}

	f.model.replyErr = fmt.Errorf("metered: %w", costs.ErrLimitReached)
	reply, err = f.app.Talk(context.Background(), alice, "嗨")
	if err != nil || !strings.Contains(reply, "上限") {
		t.Fatalf("expected limit message, got %q err=%v", reply, err)
	}
}

func TestTranscriptSurvivesRestart(t *testing.T) {
	f := newFixture(t)
	if _, _, err := f.app.StartTalk(alice, character.KeyMentor); err != nil {
		t.Fatalf("start talk: %v", err)
	}
	if _, err := f.app.Talk(context.Background(), alice, "週末去看球？"); err != nil {
		t.Fatalf("talk: %v", err)
	}

	restarted, err := New(Deps{
		Registry:  f.app.registry,
		Bindings:  binding.New(),
		Extractor: f.app.extractor,
		Backend:   f.app.backend,
		Responder: f.app.responder,
	}, f.app.opts)
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if _, _, err := restarted.StartTalk(alice, character.KeyMentor); err != nil {
		t.Fatalf("start talk after restart: %v", err)
	}
	if got := restarted.History(alice); len(got) != 2 || got[0].Content != "週末去看球？" {
		t.Fatalf("expected transcript reloaded, got %+v", got)
	}
}

func TestChangeAndDeleteScene(t *testing.T) {
	f := newFixture(t)
	if _, err := f.app.ChangeScene("月球"); !errors.Is(err, ErrNoScene) {
		t.Fatalf("expected ErrNoScene, got %v", err)
	}
	if _, err := f.app.Registry().CreateScene(character.SceneSetting{Name: "屋頂", Description: "夜景"}); err != nil {
		t.Fatalf("create scene: %v", err)
	}
	if _, err := f.app.ChangeScene("屋頂"); err != nil {
		t.Fatalf("change scene: %v", err)
	}
	if deleted, err := f.app.DeleteScene("屋頂"); err != nil || !deleted {
		t.Fatalf("delete scene: deleted=%v err=%v", deleted, err)
	}
	if got := f.app.Scene().Name; got != character.DefaultSceneName {
		t.Fatalf("expected fallback to default scene, got %q", got)
	}
}

func TestBindNoteAndSummary(t *testing.T) {
	f := newFixture(t)
	id, name, err := f.app.BindBackground(character.KeySecretary, character.BackgroundRecord{Title: "T1", Content: "C1"})
	if err != nil || name != "林秘書" {
		t.Fatalf("bind background: name=%q err=%v", name, err)
	}
	kind, err := ParseNoteKind("秘密")
	if err != nil {
		t.Fatalf("parse kind: %v", err)
	}
	if _, err := f.app.BindNote("林秘書", kind, "其實很怕狗"); err != nil {
		t.Fatalf("bind note: %v", err)
	}

	summary, ok := f.app.BackgroundSummary("secretary")
	if !ok || !strings.Contains(summary, "T1") || !strings.Contains(summary, "C1") {
		t.Fatalf("unexpected summary %q", summary)
	}
	if !f.app.Unbind("林秘書", id) {
		t.Fatalf("expected unbind to succeed")
	}
	if _, ok := f.app.BackgroundSummary("nobody"); ok {
		t.Fatalf("expected no summary for unbound name")
	}
}

func seedState(t *testing.T, f *fixture) {
	t.Helper()
	reg := f.app.Registry()
	if _, err := reg.CreateCharacter(character.CharacterTrait{Name: "阿哲", Personality: "冷靜"}); err != nil {
		t.Fatalf("create character: %v", err)
	}
	if _, err := reg.CreateScene(character.SceneSetting{Name: "屋頂", Description: "夜景"}); err != nil {
		t.Fatalf("create scene: %v", err)
	}
	if _, err := reg.CreateBackground("草稿", "內容", ""); err != nil {
		t.Fatalf("create background: %v", err)
	}
	if _, _, err := f.app.BindBackground("阿哲", character.BackgroundRecord{Title: "T", Content: "C"}); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if _, _, err := f.app.StartTalk(alice, character.KeySecretary); err != nil {
		t.Fatalf("start talk: %v", err)
	}
	if _, err := f.app.Talk(context.Background(), alice, "早安"); err != nil {
		t.Fatalf("talk: %v", err)
	}
	f.app.StagePending(bob, []calendar.Event{{Title: "x", Date: "2099-01-01", Start: "09:00", End: "10:00"}})
	if _, err := f.app.ChangeScene("屋頂"); err != nil {
		t.Fatalf("change scene: %v", err)
	}
}

func TestResetSoft(t *testing.T) {
	f := newFixture(t)
	seedState(t, f)

	res := f.app.Reset(context.Background(), TierSoft)
	if !res.Success || res.ResetType != "soft" {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Details["conversation_history"] != 2 || res.Details["active_events"] != 1 || res.Details["stories"] != 1 {
		t.Fatalf("unexpected details %+v", res.Details)
	}
	if len(f.app.History(alice)) != 0 || len(f.app.Pending(bob)) != 0 {
		t.Fatalf("expected history and staged events cleared")
	}
	if bg, ok := f.app.Background("阿哲"); !ok || len(bg.Stories) != 0 {
		t.Fatalf("expected binding entry emptied but present, got %+v ok=%v", bg, ok)
	}
	if _, _, ok := f.app.Registry().Character("阿哲"); !ok {
		t.Fatalf("expected custom character to survive soft reset")
	}
	if len(f.app.Registry().Backgrounds()) != 1 {
		t.Fatalf("expected background drafts to survive soft reset")
	}
	if f.app.Scene().Name != "屋頂" {
		t.Fatalf("expected scene unchanged by soft reset")
	}
}

func TestResetHard(t *testing.T) {
	f := newFixture(t)
	seedState(t, f)

	res := f.app.Reset(context.Background(), TierHard)
	if !res.Success {
		t.Fatalf("hard reset failed: %+v", res)
	}
	if res.Details["custom_characters"] != 1 || res.Details["custom_scenes"] != 1 || res.Details["background_drafts"] != 1 {
		t.Fatalf("unexpected details %+v", res.Details)
	}
	if !reflect.DeepEqual(f.app.Registry().Characters(), character.DefaultCharacters()) {
		t.Fatalf("expected only built-in characters after hard reset")
	}
	if bg, _ := f.app.Background("阿哲"); len(bg.Stories) != 0 {
		t.Fatalf("expected binding for removed character cleared")
	}
	keys, err := f.records.List(store.Characters)
	if err != nil || len(keys) != 0 {
		t.Fatalf("expected no stored custom characters, got %v err=%v", keys, err)
	}
	if got := f.app.Scene().Name; got != character.DefaultSceneName {
		t.Fatalf("expected removed custom scene replaced by default, got %q", got)
	}
}

func TestResetHardRestoresShadowedBuiltinScene(t *testing.T) {
	f := newFixture(t)
	if _, err := f.app.Registry().CreateScene(character.SceneSetting{Name: "咖啡廳", Description: "深夜"}); err != nil {
		t.Fatalf("create scene: %v", err)
	}
	if _, err := f.app.ChangeScene("咖啡廳"); err != nil {
		t.Fatalf("change scene: %v", err)
	}

	if res := f.app.Reset(context.Background(), TierHard); !res.Success {
		t.Fatalf("hard reset failed: %+v", res)
	}
	want := character.DefaultScenes()["咖啡廳"]
	if got := f.app.Scene(); got.Name != "咖啡廳" || got.Description != want.Description {
		t.Fatalf("expected built-in 咖啡廳 after hard reset, got %+v", got)
	}
}

func TestConfiguredDefaultScene(t *testing.T) {
	f := newFixture(t)
	if _, err := f.app.registry.CreateScene(character.SceneSetting{Name: "屋頂", Description: "夜景"}); err != nil {
		t.Fatalf("create scene: %v", err)
	}
	deps := Deps{
		Registry:  f.app.registry,
		Bindings:  binding.New(),
		Extractor: f.app.extractor,
		Backend:   f.app.backend,
		Responder: f.app.responder,
	}

	cases := []struct {
		configured string
		want       string
	}{
		{configured: "", want: character.DefaultSceneName},
		{configured: "咖啡廳", want: "咖啡廳"},
		{configured: "屋頂", want: "屋頂"},
		{configured: "月球", want: character.DefaultSceneName},
	}
	for _, tc := range cases {
		a, err := New(deps, Options{DefaultScene: tc.configured})
		if err != nil {
			t.Fatalf("new app: %v", err)
		}
		if got := a.Scene().Name; got != tc.want {
			t.Fatalf("default scene %q: expected start in %q, got %q", tc.configured, tc.want, got)
		}
	}

	a, err := New(deps, Options{DefaultScene: "咖啡廳"})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	if _, err := a.ChangeScene("屋頂"); err != nil {
		t.Fatalf("change scene: %v", err)
	}
	if deleted, err := a.DeleteScene("屋頂"); err != nil || !deleted {
		t.Fatalf("delete scene: deleted=%v err=%v", deleted, err)
	}
	if got := a.Scene().Name; got != "咖啡廳" {
		t.Fatalf("expected configured scene after delete, got %q", got)
	}
}

func TestResetFull(t *testing.T) {
	f := newFixture(t)
	seedState(t, f)

	res := f.app.Reset(context.Background(), TierFull)
	if !res.Success || res.Message != "系統已成功初始化 (full重置)" {
		t.Fatalf("unexpected result %+v", res)
	}
	if f.app.Scene().Name != character.DefaultSceneName {
		t.Fatalf("expected default scene after full reset, got %q", f.app.Scene().Name)
	}
	if _, ok := f.app.Talking(alice); ok {
		t.Fatalf("expected conversations dropped after full reset")
	}
	if !reflect.DeepEqual(f.app.Registry().Scenes(), character.DefaultScenes()) {
		t.Fatalf("expected factory scenes")
	}
}

func TestResetUnknownTier(t *testing.T) {
	f := newFixture(t)
	res := f.app.Reset(context.Background(), Tier("nuclear"))
	if res.Success || !strings.Contains(res.Error, "nuclear") {
		t.Fatalf("expected failure for unknown tier, got %+v", res)
	}
}

// Two users binding to the same character at once interleave into one
// accumulator. App serialises the store, so every bind lands; the order
// between users is whatever the scheduler picks.
func TestConcurrentBindsFromTwoUsers(t *testing.T) {
	f := newFixture(t)
	const perUser = 50

	var wg sync.WaitGroup
	for _, u := range []string{"alice", "bob"} {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			for i := 0; i < perUser; i++ {
				rec := character.BackgroundRecord{Title: fmt.Sprintf("%s-%d", u, i), Content: "c"}
				if _, _, err := f.app.BindBackground("林秘書", rec); err != nil {
					t.Errorf("bind: %v", err)
					return
				}
			}
		}(u)
	}
	wg.Wait()

	bg, ok := f.app.Background("林秘書")
	if !ok || len(bg.Stories) != 2*perUser {
		t.Fatalf("expected %d stories, got %d", 2*perUser, len(bg.Stories))
	}
	last := map[string]int{"alice": -1, "bob": -1}
	for _, s := range bg.Stories {
		var who string
		var n int
		if _, err := fmt.Sscanf(strings.Replace(s.Title, "-", " ", 1), "%s %d", &who, &n); err != nil {
			t.Fatalf("parse title %q: %v", s.Title, err)
		}
		if n <= last[who] {
			t.Fatalf("expected per-user order preserved, %s went %d after %d", who, n, last[who])
		}
		last[who] = n
	}
}
