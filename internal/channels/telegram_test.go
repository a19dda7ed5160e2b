package channels

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/neoclaw-ai/talkclaw/internal/approval"
	"github.com/neoclaw-ai/talkclaw/internal/runtime"
	"github.com/neoclaw-ai/talkclaw/internal/store"
)

func TestTelegramListener_LoadAllowedUsersOnce(t *testing.T) {
	path := writeAllowedUsersFile(t, `{
  "users": [
    {"id":"111","channel":"telegram","username":"alice","name":"Alice","added_at":"2026-02-19T14:30:00Z"}
  ]
}
`)

	listener := NewTelegram("token", path)
	if err := listener.loadAllowedUsers(); err != nil {
		t.Fatalf("load users: %v", err)
	}

	// If per-message reads were happening, this replacement would revoke access.
	if err := store.WriteFile(path, []byte("{\"users\": []}\n")); err != nil {
		t.Fatalf("replace users file: %v", err)
	}

	handler := &telegramTestHandler{done: make(chan *runtime.Message, 2)}
	dispatcher, stop := startTestDispatcher(t, handler)
	defer stop()

	outbound := &outboundMessages{}
	configureTelegramSendCapture(listener, outbound)
	listener.handleInboundMessage(
		context.Background(),
		dispatcher,
		&models.Message{
			From: &models.User{ID: 111, Username: "alice"},
			Chat: models.Chat{ID: 10},
			Text: "hello",
		},
	)

	select {
	case <-handler.done:
	case <-time.After(300 * time.Millisecond):
		t.Fatal("expected authorized message to be dispatched")
	}
}

func TestTelegramListener_UnauthorizedUserIsDropped(t *testing.T) {
	path := writeAllowedUsersFile(t, `{
  "users": [
    {"id":"222","channel":"telegram","username":"bob","name":"Bob","added_at":"2026-02-19T14:30:00Z"}
  ]
}
`)

	listener := NewTelegram("token", path)
	if err := listener.loadAllowedUsers(); err != nil {
		t.Fatalf("load users: %v", err)
	}

	handler := &telegramTestHandler{done: make(chan *runtime.Message, 2)}
	dispatcher, stop := startTestDispatcher(t, handler)
	defer stop()

	outbound := &outboundMessages{}
	configureTelegramSendCapture(listener, outbound)
	listener.handleInboundMessage(
		context.Background(),
		dispatcher,
		&models.Message{
			From: &models.User{ID: 111, Username: "alice"},
			Chat: models.Chat{ID: 10},
			Text: "hello",
		},
	)

	select {
	case msg := <-handler.done:
		t.Fatalf("expected no handler call for unauthorized user, got %#v", msg)
	case <-time.After(80 * time.Millisecond):
	}
	if len(outbound.messages) != 0 {
		t.Fatalf("expected no outbound messages, got %#v", outbound.messages)
	}
}

func TestTelegramListener_EnqueueIsNonBlocking(t *testing.T) {
	path := writeAllowedUsersFile(t, `{
  "users": [
    {"id":"111","channel":"telegram","username":"alice","name":"Alice","added_at":"2026-02-19T14:30:00Z"}
  ]
}
`)

	listener := NewTelegram("token", path)
	if err := listener.loadAllowedUsers(); err != nil {
		t.Fatalf("load users: %v", err)
	}

	block := make(chan struct{})
	handler := &telegramBlockingHandler{block: block}
	dispatcher, stop := startTestDispatcher(t, handler)
	defer stop()

	done := make(chan struct{})
	start := time.Now()
	go func() {
		configureTelegramSendCapture(listener, &outboundMessages{})
		listener.handleInboundMessage(
			context.Background(),
			dispatcher,
			&models.Message{
				From: &models.User{ID: 111, Username: "alice"},
				Chat: models.Chat{ID: 10},
				Text: "hello",
			},
		)
		close(done)
	}()

	select {
	case <-done:
		if time.Since(start) > 100*time.Millisecond {
			t.Fatalf("enqueue unexpectedly slow: %s", time.Since(start))
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("expected enqueue path to return quickly")
	}
	close(block)
}

func TestTelegramApprovalHandler_SendsTypingForNonSlash(t *testing.T) {
	listener := NewTelegram("token", "")
	actionCalls := make(chan *bot.SendChatActionParams, 1)
	listener.sendChatAction = func(_ context.Context, params *bot.SendChatActionParams) (bool, error) {
		select {
		case actionCalls <- params:
		default:
		}
		return true, nil
	}

	block := make(chan struct{})
	handler := &telegramApprovalHandler{
		listener: listener,
		handler:  &telegramBlockingHandler{block: block},
	}
	writer := &telegramWriter{
		listener: listener,
		chatID:   42,
		userID:   "111",
		username: "alice",
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- handler.HandleMessage(ctx, writer, &runtime.Message{Text: "hello"})
	}()

	select {
	case params := <-actionCalls:
		if got := chatIDFromAny(params.ChatID); got != 42 {
			t.Fatalf("unexpected typing chat id: %d", got)
		}
		if params.Action != models.ChatActionTyping {
			t.Fatalf("unexpected chat action: %q", params.Action)
		}
	case <-time.After(300 * time.Millisecond):
		t.Fatal("expected typing action for non-slash message")
	}

	close(block)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("handler failed: %v", err)
		}
	case <-time.After(300 * time.Millisecond):
		t.Fatal("handler did not complete")
	}
}

func TestTelegramApprovalHandler_DoesNotSendTypingForSlash(t *testing.T) {
	listener := NewTelegram("token", "")
	actionCalls := make(chan *bot.SendChatActionParams, 1)
	listener.sendChatAction = func(_ context.Context, params *bot.SendChatActionParams) (bool, error) {
		select {
		case actionCalls <- params:
		default:
		}
		return true, nil
	}

	block := make(chan struct{})
	handler := &telegramApprovalHandler{
		listener: listener,
		handler:  &telegramBlockingHandler{block: block},
	}
	writer := &telegramWriter{
		listener: listener,
		chatID:   42,
		userID:   "111",
		username: "alice",
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- handler.HandleMessage(ctx, writer, &runtime.Message{Text: "/help"})
	}()

	select {
	case <-actionCalls:
		t.Fatal("did not expect typing action for slash command")
	case <-time.After(120 * time.Millisecond):
	}

	close(block)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("handler failed: %v", err)
		}
	case <-time.After(300 * time.Millisecond):
		t.Fatal("handler did not complete")
	}
}

func TestMessagePreview_TruncatesToLimit(t *testing.T) {
	full := strings.Repeat("x", 120)
	got := messagePreview(full, 100)
	if len(got) != 100 {
		t.Fatalf("expected 100-char preview, got %d", len(got))
	}
}

func TestTelegramPairSessionSubmitCodeWrongReturnsErrWrongCode(t *testing.T) {
	session := &TelegramPairSession{
		expectedCode: "123456",
	}

	err := session.SubmitCode(context.Background(), "000000")
	if !errors.Is(err, ErrWrongCode) {
		t.Fatalf("expected ErrWrongCode, got %v", err)
	}
}

func TestGenerateTelegramPairCode_IsSixDigits(t *testing.T) {
	re := regexp.MustCompile(`^\d{6}$`)
	for range 20 {
		code, err := generateTelegramPairCode()
		if err != nil {
			t.Fatalf("generate code: %v", err)
		}
		if !re.MatchString(code) {
			t.Fatalf("expected 6-digit code, got %q", code)
		}
	}
}

func TestTelegramListenerRequestApproval_Approve(t *testing.T) {
	listener := NewTelegram("token", "")
	listener.setActiveApprovalTarget("111", "alice", 42)

	api := newMockTelegramAPI()
	listener.sendMessage = api.sendMessage
	listener.answerCallbackQuery = api.answerCallback
	listener.editMessageReplyMarkup = api.editReplyMarkup

	done := make(chan struct{})
	var decision approval.ApprovalDecision
	var err error
	go func() {
		decision, err = listener.RequestApproval(context.Background(), approval.ApprovalRequest{
			Action:      "delete_character",
			Description: "確定要刪除角色「阿哲」嗎？",
		})
		close(done)
	}()

	sendParams := api.waitForSend(t)
	approveData, _ := callbackDataFromReplyMarkup(t, sendParams)

	listener.onApprovalApproveCallback(context.Background(), nil, &models.Update{
		CallbackQuery: &models.CallbackQuery{
			ID:   "callback-1",
			From: models.User{ID: 111, Username: "alice"},
			Data: approveData,
			Message: models.MaybeInaccessibleMessage{
				Message: &models.Message{
					ID:   500,
					Chat: models.Chat{ID: 42},
				},
			},
		},
	})

	select {
	case <-done:
	case <-time.After(300 * time.Millisecond):
		t.Fatal("request approval did not complete")
	}
	if err != nil {
		t.Fatalf("request approval failed: %v", err)
	}
	if decision != approval.Approved {
		t.Fatalf("expected Approved, got %v", decision)
	}

	if len(api.answerCalls) != 1 {
		t.Fatalf("expected one answer callback call, got %d", len(api.answerCalls))
	}
	if api.answerCalls[0].CallbackQueryID != "callback-1" {
		t.Fatalf("unexpected callback id: %q", api.answerCalls[0].CallbackQueryID)
	}
	if len(api.editCalls) != 1 {
		t.Fatalf("expected one edit reply markup call, got %d", len(api.editCalls))
	}
	if api.editCalls[0].MessageID != 500 {
		t.Fatalf("unexpected message id: %d", api.editCalls[0].MessageID)
	}
}

func TestTelegramListenerRequestApproval_Deny(t *testing.T) {
	listener := NewTelegram("token", "")
	listener.setActiveApprovalTarget("111", "alice", 42)

	api := newMockTelegramAPI()
	listener.sendMessage = api.sendMessage
	listener.answerCallbackQuery = api.answerCallback
	listener.editMessageReplyMarkup = api.editReplyMarkup

	done := make(chan struct{})
	var decision approval.ApprovalDecision
	var err error
	go func() {
		decision, err = listener.RequestApproval(context.Background(), approval.ApprovalRequest{
			Action:      "delete_scene",
			Description: "確定要刪除場景「屋頂」嗎？",
		})
		close(done)
	}()

	sendParams := api.waitForSend(t)
	_, denyData := callbackDataFromReplyMarkup(t, sendParams)

	listener.onApprovalDenyCallback(context.Background(), nil, &models.Update{
		CallbackQuery: &models.CallbackQuery{
			ID:   "callback-2",
			From: models.User{ID: 111, Username: "alice"},
			Data: denyData,
			Message: models.MaybeInaccessibleMessage{
				Message: &models.Message{
					ID:   700,
					Chat: models.Chat{ID: 42},
				},
			},
		},
	})

	select {
	case <-done:
	case <-time.After(300 * time.Millisecond):
		t.Fatal("request approval did not complete")
	}
	if err != nil {
		t.Fatalf("request approval failed: %v", err)
	}
	if decision != approval.Denied {
		t.Fatalf("expected Denied, got %v", decision)
	}

	if len(api.answerCalls) != 1 {
		t.Fatalf("expected one answer callback call, got %d", len(api.answerCalls))
	}
	if api.answerCalls[0].CallbackQueryID != "callback-2" {
		t.Fatalf("unexpected callback id: %q", api.answerCalls[0].CallbackQueryID)
	}
	if len(api.editCalls) != 1 {
		t.Fatalf("expected one edit reply markup call, got %d", len(api.editCalls))
	}
	if api.editCalls[0].MessageID != 700 {
		t.Fatalf("unexpected message id: %d", api.editCalls[0].MessageID)
	}
}

func TestTelegramListenerRequestApproval_ContextCanceledReturnsDenied(t *testing.T) {
	listener := NewTelegram("token", "")
	listener.setActiveApprovalTarget("111", "alice", 42)

	api := newMockTelegramAPI()
	listener.sendMessage = api.sendMessage
	listener.answerCallbackQuery = api.answerCallback
	listener.editMessageReplyMarkup = api.editReplyMarkup

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	var decision approval.ApprovalDecision
	var err error
	go func() {
		decision, err = listener.RequestApproval(ctx, approval.ApprovalRequest{
			Action:      "delete_scene",
			Description: "確定要刪除場景「屋頂」嗎？",
		})
		close(done)
	}()

	api.waitForSend(t)
	cancel()

	select {
	case <-done:
	case <-time.After(300 * time.Millisecond):
		t.Fatal("request approval did not return after cancellation")
	}
	if err != nil {
		t.Fatalf("expected nil error on cancellation, got %v", err)
	}
	if decision != approval.Denied {
		t.Fatalf("expected Denied on cancellation, got %v", decision)
	}
	if len(api.editCalls) != 1 {
		t.Fatalf("expected keyboard to be cleared once, got %d", len(api.editCalls))
	}
}

func TestTelegramListener_InboundMessageCarriesIdentity(t *testing.T) {
	path := writeAllowedUsersFile(t, `{"users": [{"id":"111","channel":"telegram"}]}`)
	listener := NewTelegram("token", path)
	if err := listener.loadAllowedUsers(); err != nil {
		t.Fatalf("load users: %v", err)
	}

	handler := &telegramTestHandler{done: make(chan *runtime.Message, 1)}
	dispatcher, stop := startTestDispatcher(t, handler)
	defer stop()
	configureTelegramSendCapture(listener, &outboundMessages{})

	listener.handleInboundMessage(context.Background(), dispatcher, &models.Message{
		From: &models.User{ID: 111, Username: "alice"},
		Chat: models.Chat{ID: -77},
		Text: "  /add 明天開會  ",
	})

	select {
	case msg := <-handler.done:
		if msg.Text != "/add 明天開會" || msg.Channel != TelegramChannel || msg.UserID != "111" || msg.Target != "-77" {
			t.Fatalf("unexpected message %+v", msg)
		}
		if msg.Key() != "telegram:111" {
			t.Fatalf("unexpected key %q", msg.Key())
		}
	case <-time.After(300 * time.Millisecond):
		t.Fatal("expected message to be dispatched")
	}
}

func TestTelegramListener_PromptConsumesNextMessage(t *testing.T) {
	path := writeAllowedUsersFile(t, `{"users": [{"id":"111","channel":"telegram"}]}`)
	listener := NewTelegram("token", path)
	if err := listener.loadAllowedUsers(); err != nil {
		t.Fatalf("load users: %v", err)
	}
	outbound := &outboundMessages{}
	configureTelegramSendCapture(listener, outbound)
	listener.setActiveApprovalTarget("111", "alice", 10)

	handler := &telegramTestHandler{done: make(chan *runtime.Message, 1)}
	dispatcher, stop := startTestDispatcher(t, handler)
	defer stop()

	answers := make(chan string, 1)
	go func() {
		reply, err := listener.Prompt(context.Background(), runtime.PromptRequest{Text: "請輸入角色資料", Timeout: time.Second})
		if err != nil {
			answers <- "err: " + err.Error()
			return
		}
		answers <- reply
	}()

	deadline := time.Now().Add(time.Second)
	for !listener.broker.Waiting("telegram:111") {
		if time.Now().After(deadline) {
			t.Fatal("prompt never started waiting")
		}
		time.Sleep(5 * time.Millisecond)
	}
	listener.handleInboundMessage(context.Background(), dispatcher, &models.Message{
		From: &models.User{ID: 111, Username: "alice"},
		Chat: models.Chat{ID: 10},
		Text: "名稱: 阿哲",
	})

	if got := <-answers; got != "名稱: 阿哲" {
		t.Fatalf("unexpected prompt answer %q", got)
	}
	select {
	case msg := <-handler.done:
		t.Fatalf("expected prompt answer not to be dispatched, got %+v", msg)
	case <-time.After(80 * time.Millisecond):
	}
	if len(outbound.messages) != 1 || outbound.messages[0] != "請輸入角色資料" {
		t.Fatalf("expected prompt text sent, got %#v", outbound.messages)
	}
}

func TestTelegramListener_PromptWithoutTarget(t *testing.T) {
	listener := NewTelegram("token", "")
	if _, err := listener.Prompt(context.Background(), runtime.PromptRequest{Text: "?"}); err == nil {
		t.Fatal("expected error without an active chat")
	}
}

func TestTelegramWriter_RendersMarkdownAsPlainText(t *testing.T) {
	listener := NewTelegram("token", "")
	outbound := &outboundMessages{}
	configureTelegramSendCapture(listener, outbound)

	w := &telegramWriter{listener: listener, chatID: 42, userID: "111"}
	if err := w.WriteMessage(context.Background(), "**好的**，我會*準時*到。"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if len(outbound.messages) != 1 || outbound.messages[0] != "好的，我會準時到。" {
		t.Fatalf("unexpected outbound %#v", outbound.messages)
	}
}

func TestTelegramListener_SendTo(t *testing.T) {
	listener := NewTelegram("token", "")
	var chatIDs []int64
	listener.sendMessage = func(_ context.Context, params *bot.SendMessageParams) (*models.Message, error) {
		chatIDs = append(chatIDs, chatIDFromAny(params.ChatID))
		return &models.Message{ID: 1}, nil
	}

	if err := listener.SendTo(context.Background(), "42", "⏰ 提醒"); err != nil {
		t.Fatalf("send to: %v", err)
	}
	if len(chatIDs) != 1 || chatIDs[0] != 42 {
		t.Fatalf("unexpected chat ids %v", chatIDs)
	}
	if err := listener.SendTo(context.Background(), "alice", "x"); err == nil {
		t.Fatal("expected error for non-numeric target")
	}
}

type telegramTestHandler struct {
	done chan *runtime.Message
}

func (h *telegramTestHandler) HandleMessage(ctx context.Context, w runtime.ResponseWriter, msg *runtime.Message) error {
	select {
	case h.done <- msg:
	default:
	}
	return w.WriteMessage(ctx, "ok")
}

type telegramBlockingHandler struct {
	block <-chan struct{}
}

func (h *telegramBlockingHandler) HandleMessage(context.Context, runtime.ResponseWriter, *runtime.Message) error {
	<-h.block
	return nil
}

type outboundMessages struct {
	messages []string
}

func (o *outboundMessages) append(text string) {
	o.messages = append(o.messages, text)
}

func startTestDispatcher(t *testing.T, handler runtime.Handler) (*runtime.Dispatcher, func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	dispatcher := runtime.NewDispatcher(handler, defaultDispatchQueue)
	if err := dispatcher.Start(ctx); err != nil {
		cancel()
		t.Fatalf("start dispatcher: %v", err)
	}
	return dispatcher, func() {
		cancel()
		dispatcher.Wait()
	}
}

func writeAllowedUsersFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "allowed_users.json")
	if err := store.WriteFile(path, []byte(content)); err != nil {
		t.Fatalf("write allowed users file: %v", err)
	}
	return path
}

type mockTelegramAPI struct {
	mu          sync.Mutex
	sendCalls   []*bot.SendMessageParams
	answerCalls []*bot.AnswerCallbackQueryParams
	editCalls   []*bot.EditMessageReplyMarkupParams
	sendSignal  chan struct{}
}

func newMockTelegramAPI() *mockTelegramAPI {
	return &mockTelegramAPI{
		sendSignal: make(chan struct{}, 10),
	}
}

func (m *mockTelegramAPI) sendMessage(_ context.Context, params *bot.SendMessageParams) (*models.Message, error) {
	m.mu.Lock()
	m.sendCalls = append(m.sendCalls, params)
	m.mu.Unlock()
	select {
	case m.sendSignal <- struct{}{}:
	default:
	}
	return &models.Message{
		ID:   1,
		Chat: models.Chat{ID: chatIDFromAny(params.ChatID)},
	}, nil
}

func (m *mockTelegramAPI) answerCallback(_ context.Context, params *bot.AnswerCallbackQueryParams) (bool, error) {
	m.mu.Lock()
	m.answerCalls = append(m.answerCalls, params)
	m.mu.Unlock()
	return true, nil
}

func (m *mockTelegramAPI) editReplyMarkup(_ context.Context, params *bot.EditMessageReplyMarkupParams) (*models.Message, error) {
	m.mu.Lock()
	m.editCalls = append(m.editCalls, params)
	m.mu.Unlock()
	return &models.Message{
		ID:   params.MessageID,
		Chat: models.Chat{ID: chatIDFromAny(params.ChatID)},
	}, nil
}

func (m *mockTelegramAPI) waitForSend(t *testing.T) *bot.SendMessageParams {
	t.Helper()
	select {
	case <-m.sendSignal:
	case <-time.After(300 * time.Millisecond):
		t.Fatal("timed out waiting for send message call")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sendCalls) == 0 {
		t.Fatal("expected at least one send message call")
	}
	return m.sendCalls[len(m.sendCalls)-1]
}

func callbackDataFromReplyMarkup(t *testing.T, params *bot.SendMessageParams) (string, string) {
	t.Helper()
	markup, ok := params.ReplyMarkup.(*models.InlineKeyboardMarkup)
	if !ok {
		t.Fatalf("expected inline keyboard markup, got %T", params.ReplyMarkup)
	}
	if len(markup.InlineKeyboard) == 0 || len(markup.InlineKeyboard[0]) < 2 {
		t.Fatalf("expected two inline keyboard buttons, got %#v", markup.InlineKeyboard)
	}
	return markup.InlineKeyboard[0][0].CallbackData, markup.InlineKeyboard[0][1].CallbackData
}

func chatIDFromAny(chatID any) int64 {
	switch v := chatID.(type) {
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return 0
	}
}

func configureTelegramSendCapture(listener *TelegramListener, outbound *outboundMessages) {
	listener.sendMessage = func(_ context.Context, params *bot.SendMessageParams) (*models.Message, error) {
		if outbound != nil {
			outbound.append(params.Text)
		}
		return &models.Message{
			ID:   1,
			Chat: models.Chat{ID: chatIDFromAny(params.ChatID)},
		}, nil
	}
	listener.answerCallbackQuery = func(context.Context, *bot.AnswerCallbackQueryParams) (bool, error) {
		return true, nil
	}
	listener.editMessageReplyMarkup = func(_ context.Context, params *bot.EditMessageReplyMarkupParams) (*models.Message, error) {
		return &models.Message{
			ID:   params.MessageID,
			Chat: models.Chat{ID: chatIDFromAny(params.ChatID)},
		}, nil
	}
	listener.sendChatAction = func(context.Context, *bot.SendChatActionParams) (bool, error) {
		return true, nil
	}
}
