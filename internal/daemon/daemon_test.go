package daemon

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/operchat/echat/internal/api"
	"github.com/operchat/echat/internal/bus"
	"github.com/operchat/echat/internal/localstore"
	"github.com/operchat/echat/internal/outbox"
	"github.com/operchat/echat/internal/realtime"
	"github.com/operchat/echat/internal/repo"
	intsync "github.com/operchat/echat/internal/sync"
)

// stubBackend serves canned pages for the HTTP surface tests.
type stubBackend struct {
	convs []repo.Conversation
	msgs  []repo.Message
}

func (s *stubBackend) ListConversations(context.Context, repo.EntityType, repo.Filters) ([]repo.Conversation, repo.PageMeta, error) {
	return s.convs, repo.PageMeta{CurrentPage: 1, LastPage: 1, Total: len(s.convs)}, nil
}

func (s *stubBackend) GetContactInfo(_ context.Context, sel repo.Selection) (repo.Conversation, error) {
	return repo.Conversation{ID: sel.ID, Name: "stub", Contacts: []repo.Contact{{ID: sel.ContactID, Phone: "+1"}}}, nil
}

func (s *stubBackend) ListMessages(context.Context, repo.Selection, int) ([]repo.Message, repo.PageMeta, error) {
	return s.msgs, repo.PageMeta{CurrentPage: 1, LastPage: 1}, nil
}

func (s *stubBackend) GetMessage(_ context.Context, id int) (repo.Message, error) {
	return repo.Message{ID: id, Text: "routed"}, nil
}

type stubDispatcher struct{}

func (stubDispatcher) SendMessage(context.Context, api.SendRequest) (*api.SendResult, error) {
	return &api.SendResult{MessageID: 1}, nil
}

func (stubDispatcher) UploadFile(context.Context, string, io.Reader) (string, error) {
	return "https://files.example.com/x", nil
}

func testServer(t *testing.T, be intsync.Backend) *Server {
	t.Helper()

	db, err := localstore.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	logger := zap.NewNop()
	b := bus.New()
	r := repo.New(b)
	machine := realtime.NewMachine(b)
	fetcher := intsync.NewFetcher(be, r, b, logger)
	router := intsync.NewRouter(be, r, b, logger)
	sender := outbox.NewSender(stubDispatcher{}, r, b, logger)
	drafts := localstore.NewDraftWriter(db)
	t.Cleanup(func() { _ = drafts.Close() })

	return NewServer("127.0.0.1:0", logger, r, fetcher, router, sender, b, machine, drafts, db)
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	return rec
}

func TestStatusEndpoint(t *testing.T) {
	srv := testServer(t, &stubBackend{})

	rec := do(t, srv, http.MethodGet, "/v1/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}

	var got struct {
		Realtime string         `json:"realtime"`
		Lists    map[string]any `json:"lists"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Realtime != string(realtime.Disconnected) {
		t.Errorf("realtime = %q", got.Realtime)
	}
	if len(got.Lists) != 3 {
		t.Errorf("lists = %v", got.Lists)
	}
}

func TestRefreshThenList(t *testing.T) {
	be := &stubBackend{convs: []repo.Conversation{{ID: 1, Name: "Anna"}}}
	srv := testServer(t, be)

	if rec := do(t, srv, http.MethodPost, "/v1/conversations/leads/refresh", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("refresh = %d: %s", rec.Code, rec.Body)
	}

	rec := do(t, srv, http.MethodGet, "/v1/conversations/leads", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Anna") {
		t.Errorf("body = %s", rec.Body)
	}

	if rec := do(t, srv, http.MethodGet, "/v1/conversations/robots", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown entity = %d", rec.Code)
	}
}

func TestOpenActiveSendFlow(t *testing.T) {
	be := &stubBackend{msgs: []repo.Message{{ID: 10, Text: "history"}}}
	srv := testServer(t, be)

	if rec := do(t, srv, http.MethodPost, "/v1/open", `{"entity":"leads","id":5,"contact_id":7}`); rec.Code != http.StatusNoContent {
		t.Fatalf("open = %d: %s", rec.Code, rec.Body)
	}

	rec := do(t, srv, http.MethodGet, "/v1/active", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("active = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "history") {
		t.Errorf("active body = %s", rec.Body)
	}

	if rec := do(t, srv, http.MethodPost, "/v1/messages", `{"text":"hi","messenger_id":2}`); rec.Code != http.StatusNoContent {
		t.Fatalf("send = %d: %s", rec.Code, rec.Body)
	}

	rec = do(t, srv, http.MethodGet, "/v1/active", "")
	if !strings.Contains(rec.Body.String(), `"hi"`) {
		t.Errorf("sent message missing from thread: %s", rec.Body)
	}
}

func TestActiveWithoutSelection(t *testing.T) {
	srv := testServer(t, &stubBackend{})
	if rec := do(t, srv, http.MethodGet, "/v1/active", ""); rec.Code != http.StatusNotFound {
		t.Errorf("active = %d, want 404", rec.Code)
	}
	if rec := do(t, srv, http.MethodPut, "/v1/active/draft", `{"text":"x"}`); rec.Code != http.StatusNotFound {
		t.Errorf("draft = %d, want 404", rec.Code)
	}
}

func TestDraftPersists(t *testing.T) {
	srv := testServer(t, &stubBackend{})
	_ = do(t, srv, http.MethodPost, "/v1/open", `{"entity":"clients","id":3,"contact_id":4}`)

	if rec := do(t, srv, http.MethodPut, "/v1/active/draft", `{"text":"unfinished"}`); rec.Code != http.StatusNoContent {
		t.Fatalf("draft = %d", rec.Code)
	}
	if err := srv.drafts.Flush(); err != nil {
		t.Fatal(err)
	}

	sel := repo.Selection{Entity: repo.EntityClients, ID: 3, ContactID: 4}
	got, err := srv.db.GetDraft(sel)
	if err != nil || got != "unfinished" {
		t.Errorf("stored draft = %q, %v", got, err)
	}
}

func TestPushEndpointRoutesNotification(t *testing.T) {
	be := &stubBackend{}
	srv := testServer(t, be)

	payload := `{"id":"42","contragent_id":"9","contragent_type":"lead","contragent_contact_id":"2"}`
	if rec := do(t, srv, http.MethodPost, "/v1/push", payload); rec.Code != http.StatusNoContent {
		t.Fatalf("push = %d: %s", rec.Code, rec.Body)
	}

	// Unknown conversation: router inserted it at the top with one unread.
	rec := do(t, srv, http.MethodGet, "/v1/conversations/leads", "")
	if !strings.Contains(rec.Body.String(), "stub") {
		t.Errorf("conversation not inserted: %s", rec.Body)
	}

	if rec := do(t, srv, http.MethodPost, "/v1/push", `{"id":"x"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("bad payload = %d", rec.Code)
	}
}
