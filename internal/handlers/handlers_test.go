package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wainbox/server/internal/auth"
	"wainbox/server/internal/badge"
	"wainbox/server/internal/middleware"
	"wainbox/server/internal/models"
	"wainbox/server/internal/sender"
	"wainbox/server/internal/session"
	"wainbox/server/internal/store"
	ws "wainbox/server/internal/websocket"
)

const (
	secret = "handlers-test-secret"
	chatA  = int64(31612345678)
)

var now = time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

type fakeStore struct {
	mu       sync.Mutex
	contacts map[int64]*models.Contact
	messages []models.Message
	filters  []store.ContactFilter
	marked   [][]int64
	err      error
}

func (f *fakeStore) GetContact(_ context.Context, waID int64) (*models.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	c, ok := f.contacts[waID]
	if !ok {
		return nil, store.ErrContactNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeStore) ListContacts(_ context.Context, filter store.ContactFilter) ([]models.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filters = append(f.filters, filter)
	if f.err != nil {
		return nil, f.err
	}
	var out []models.Contact
	for _, c := range f.contacts {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WaID < out[j].WaID })
	return out, nil
}

func (f *fakeStore) FetchMessages(_ context.Context, chatID int64, before *time.Time, limit int) ([]models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []models.Message
	for i := len(f.messages) - 1; i >= 0 && len(out) < limit; i-- {
		m := f.messages[i]
		if m.ChatID != chatID || (before != nil && !m.CreatedAt.Before(*before)) {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeStore) MarkAsRead(_ context.Context, _ int64, ids []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marked = append(f.marked, ids)
	return f.err
}

type fakeBadges struct {
	b   badge.Badge
	err error
}

func (f *fakeBadges) Unread(context.Context) (badge.Badge, error) { return f.b, f.err }

type fakeSender struct {
	mu   sync.Mutex
	reqs []sender.Request
	res  sender.Result
	err  error
}

func (f *fakeSender) Send(_ context.Context, req sender.Request) (sender.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return f.res, f.err
}

type fakeConversation struct {
	chatID int64
	sent   []session.SendRequest
}

func (f *fakeConversation) Open(waID int64) error { f.chatID = waID; return nil }
func (f *fakeConversation) LoadOlder() error      { return nil }
func (f *fakeConversation) Send(req session.SendRequest) (string, error) {
	f.sent = append(f.sent, req)
	return "tmp-1", nil
}
func (f *fakeConversation) Retry(string) error { return nil }
func (f *fakeConversation) Close() error       { return nil }
func (f *fakeConversation) ChatID() int64      { return f.chatID }

type fixture struct {
	app    *fiber.App
	h      *Handlers
	store  *fakeStore
	sender *fakeSender
	token  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	lastIn := now.Add(-time.Hour)
	name := "Alice"
	st := &fakeStore{contacts: map[int64]*models.Contact{
		chatA: {WaID: chatA, ProfileName: &name, LastMessageReceivedAt: &lastIn, UnreadCount: 120},
	}}
	snd := &fakeSender{res: sender.Result{WamID: "wamid.OUT"}}
	h := &Handlers{
		Store:            st,
		Badges:           &fakeBadges{b: badge.New(120)},
		Sender:           snd,
		PageSize:         3,
		ContactsPageSize: 50,
		Now:              func() time.Time { return now },
	}

	app := fiber.New()
	authed := middleware.Auth(secret)
	app.Get("/chats", authed, h.GetChats)
	app.Get("/chats/unread", authed, h.GetUnreadBadge)
	app.Get("/chats/:waId", authed, h.GetContact)
	app.Get("/chats/:waId/messages", authed, h.GetMessages)
	app.Post("/chats/:waId/messages", authed, h.SendMessage)
	app.Put("/chats/:waId/read", authed, h.MarkAsRead)
	app.Get("/ws", authed, WebSocketUpgrade, func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })
	app.Get("/ws/stats", authed, h.GetWebSocketStats)

	tok, err := auth.IssueToken(secret, "op-1", "op@example.com", "agent", time.Hour)
	require.NoError(t, err)
	return &fixture{app: app, h: h, store: st, sender: snd, token: tok}
}

type envelope struct {
	Success bool            `json:"success"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

func (f *fixture) do(t *testing.T, req *http.Request) (int, envelope) {
	t.Helper()
	req.Header.Set("Authorization", "Bearer "+f.token)
	resp, err := f.app.Test(req)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var env envelope
	require.NoError(t, json.Unmarshal(body, &env), string(body))
	return resp.StatusCode, env
}

func (f *fixture) get(t *testing.T, path string) (int, envelope) {
	return f.do(t, httptest.NewRequest(http.MethodGet, path, nil))
}

func form(t *testing.T, fields map[string]string, file string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if file != "" {
		part, err := w.CreateFormFile("file", file)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	req := httptest.NewRequest(http.MethodPost, "/chats/31612345678/messages", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestGetChats_ActiveTab(t *testing.T) {
	f := newFixture(t)

	status, env := f.get(t, "/chats?tab=active&page=2")
	require.Equal(t, fiber.StatusOK, status)

	var data struct {
		Chats []struct {
			WaID        int64  `json:"wa_id"`
			DisplayName string `json:"display_name"`
			WindowOpen  bool   `json:"window_open"`
			UnreadLabel string `json:"unread_label"`
		} `json:"chats"`
		Page    int  `json:"page"`
		HasMore bool `json:"has_more"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.Len(t, data.Chats, 1)
	assert.Equal(t, chatA, data.Chats[0].WaID)
	assert.Equal(t, "Alice", data.Chats[0].DisplayName)
	assert.True(t, data.Chats[0].WindowOpen)
	assert.Equal(t, "99+", data.Chats[0].UnreadLabel)
	assert.Equal(t, 2, data.Page)
	assert.False(t, data.HasMore)

	require.Len(t, f.store.filters, 1)
	filter := f.store.filters[0]
	assert.True(t, filter.Active)
	assert.Equal(t, now.Add(-24*time.Hour), filter.Since)
	assert.Equal(t, 50, filter.Limit)
	assert.Equal(t, 50, filter.Offset)
}

func TestGetChats_RejectsUnknownTab(t *testing.T) {
	f := newFixture(t)
	status, env := f.get(t, "/chats?tab=archived")
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.False(t, env.Success)
}

func TestGetUnreadBadge(t *testing.T) {
	f := newFixture(t)
	status, env := f.get(t, "/chats/unread")
	require.Equal(t, fiber.StatusOK, status)

	var b badge.Badge
	require.NoError(t, json.Unmarshal(env.Data, &b))
	assert.Equal(t, badge.New(120), b)
}

func TestGetContact(t *testing.T) {
	f := newFixture(t)

	status, env := f.get(t, "/chats/+31612345678")
	require.Equal(t, fiber.StatusOK, status)
	var data struct {
		DisplayName string             `json:"display_name"`
		Window      session.WindowInfo `json:"window"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "Alice", data.DisplayName)
	assert.Equal(t, "open", string(data.Window.State))
	assert.Equal(t, "23 hours left", data.Window.Remaining)

	status, _ = f.get(t, "/chats/31600000000")
	assert.Equal(t, fiber.StatusNotFound, status)

	status, _ = f.get(t, "/chats/not-a-number")
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestGetMessages_PagesAscending(t *testing.T) {
	f := newFixture(t)
	for i := 1; i <= 5; i++ {
		f.store.messages = append(f.store.messages, models.Message{
			ID: int64(i), ChatID: chatA, CreatedAt: now.Add(time.Duration(i) * time.Minute),
		})
	}

	status, env := f.get(t, "/chats/31612345678/messages")
	require.Equal(t, fiber.StatusOK, status)
	var data struct {
		Messages []models.Message `json:"messages"`
		HasMore  bool             `json:"has_more"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.Len(t, data.Messages, 3)
	assert.Equal(t, []int64{3, 4, 5}, []int64{data.Messages[0].ID, data.Messages[1].ID, data.Messages[2].ID})
	assert.True(t, data.HasMore)

	before := now.Add(3 * time.Minute).Format(time.RFC3339)
	status, env = f.get(t, "/chats/31612345678/messages?before="+before)
	require.Equal(t, fiber.StatusOK, status)
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.Len(t, data.Messages, 2)
	assert.Equal(t, int64(1), data.Messages[0].ID)
	assert.False(t, data.HasMore)

	status, _ = f.get(t, "/chats/31612345678/messages?before=yesterday")
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestMarkAsRead(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPut, "/chats/31612345678/read", strings.NewReader(`{"message_ids":[4,5]}`))
	req.Header.Set("Content-Type", "application/json")
	status, _ := f.do(t, req)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, [][]int64{{4, 5}}, f.store.marked)

	req = httptest.NewRequest(http.MethodPut, "/chats/31612345678/read", strings.NewReader(`{"message_ids":[]}`))
	req.Header.Set("Content-Type", "application/json")
	status, _ = f.do(t, req)
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestSendMessage_TextInsideWindow(t *testing.T) {
	f := newFixture(t)

	status, env := f.do(t, form(t, map[string]string{"message": "hello"}, "", nil))
	require.Equal(t, fiber.StatusOK, status, env.Error)
	assert.JSONEq(t, `{"wam_id":"wamid.OUT"}`, string(env.Data))

	require.Len(t, f.sender.reqs, 1)
	assert.Equal(t, chatA, f.sender.reqs[0].To)
	assert.Equal(t, "hello", f.sender.reqs[0].Text)
}

func TestSendMessage_WindowClosed(t *testing.T) {
	f := newFixture(t)
	old := now.Add(-25 * time.Hour)
	f.store.contacts[chatA].LastMessageReceivedAt = &old

	status, _ := f.do(t, form(t, map[string]string{"message": "hello"}, "", nil))
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Empty(t, f.sender.reqs)

	// Templates are allowed outside the window
	tpl := `{"name":"follow_up","language":{"code":"en"}}`
	status, env := f.do(t, form(t, map[string]string{"template": tpl}, "", nil))
	require.Equal(t, fiber.StatusOK, status, env.Error)
	require.Len(t, f.sender.reqs, 1)
	require.NotNil(t, f.sender.reqs[0].Template)
	assert.Equal(t, "follow_up", f.sender.reqs[0].Template.Name)
}

func TestSendMessage_Attachment(t *testing.T) {
	f := newFixture(t)

	status, env := f.do(t, form(t, map[string]string{"fileType": "image", "message": "look"}, "cat.PNG", []byte{0x89, 'P', 'N', 'G'}))
	require.Equal(t, fiber.StatusOK, status, env.Error)
	require.Len(t, f.sender.reqs, 1)
	file := f.sender.reqs[0].File
	require.NotNil(t, file)
	assert.Equal(t, "image", file.Type)
	assert.Equal(t, "cat.PNG", file.Name)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, file.Content)

	status, _ = f.do(t, form(t, map[string]string{"fileType": "file"}, "notes.exe", []byte("x")))
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, _ = f.do(t, form(t, map[string]string{"fileType": "sticker"}, "a.webp", []byte("x")))
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestSendMessage_Errors(t *testing.T) {
	f := newFixture(t)

	status, _ := f.do(t, form(t, map[string]string{"message": "   "}, "", nil))
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, _ = f.do(t, form(t, map[string]string{"template": "{not json"}, "", nil))
	assert.Equal(t, fiber.StatusBadRequest, status)

	f.sender.err = &sender.StatusError{Code: 500, Body: "boom"}
	status, _ = f.do(t, form(t, map[string]string{"message": "hello"}, "", nil))
	assert.Equal(t, fiber.StatusBadGateway, status)

	f.sender.err = errors.New("dial tcp: refused")
	status, _ = f.do(t, form(t, map[string]string{"message": "hello"}, "", nil))
	assert.Equal(t, fiber.StatusBadGateway, status)
}

func TestSendMessage_RoutesToOpenView(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := ws.NewHub(nil)
	go hub.Run(ctx)
	f.h.Hub = hub

	conv := &fakeConversation{chatID: chatA}
	client := ws.NewClient("op-1", nil, hub, nil)
	client.View = conv
	hub.Register <- client
	require.Eventually(t, func() bool { return hub.GetOnlineCount() == 1 }, time.Second, 5*time.Millisecond)

	status, env := f.do(t, form(t, map[string]string{"message": "hello"}, "", nil))
	require.Equal(t, fiber.StatusAccepted, status, env.Error)
	assert.JSONEq(t, `{"temp_id":"tmp-1"}`, string(env.Data))
	require.Len(t, conv.sent, 1)
	assert.Equal(t, "hello", conv.sent[0].Text)
	assert.Empty(t, f.sender.reqs)

	// Another chat falls back to a direct send, announced to the operator
	conv.chatID = 31699999999
	status, _ = f.do(t, form(t, map[string]string{"message": "hello"}, "", nil))
	assert.Equal(t, fiber.StatusOK, status)
	assert.Len(t, f.sender.reqs, 1)

	select {
	case data := <-client.Send:
		var msg struct {
			Type    ws.EventType           `json:"type"`
			ChatID  int64                  `json:"chat_id"`
			Payload ws.SendAcceptedPayload `json:"payload"`
		}
		require.NoError(t, json.Unmarshal(data, &msg))
		assert.Equal(t, ws.EventSendAccepted, msg.Type)
		assert.Equal(t, chatA, msg.ChatID)
		assert.Equal(t, "wamid.OUT", msg.Payload.WamID)
	case <-time.After(time.Second):
		t.Fatal("direct send not announced")
	}

	status, env = f.get(t, "/ws/stats")
	require.Equal(t, fiber.StatusOK, status)
	assert.JSONEq(t, `{"onlineUsers":1,"userIds":["op-1"]}`, string(env.Data))
}

func TestWebSocket_RequiresUpgrade(t *testing.T) {
	f := newFixture(t)

	status, env := f.get(t, "/ws")
	assert.Equal(t, fiber.StatusUpgradeRequired, status)
	assert.False(t, env.Success)

	status, _ = f.get(t, "/ws/stats")
	assert.Equal(t, fiber.StatusServiceUnavailable, status)
}
