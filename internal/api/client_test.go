package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL, "test-token", zap.NewNop())
}

func TestListConversations(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/communications/leads/contacts" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization = %q", got)
		}
		q := r.URL.Query()
		if q.Get("page") != "2" || q.Get("search") != "ivan" || q.Get("user_id") != "5" {
			t.Errorf("query = %v", q)
		}
		_, _ = io.WriteString(w, `{
			"data": [{"id": 10, "name": "Ivan", "contacts": [{"id": 7, "phone": "+380501112233"}]}],
			"meta": {"current_page": 2, "last_page": 4, "total": 90}
		}`)
	})

	page, err := c.ListConversations(context.Background(), "leads", ListParams{Page: 2, Search: "ivan", AssignedUserID: 5})
	if err != nil {
		t.Fatalf("ListConversations() error = %v", err)
	}
	if len(page.Data) != 1 || page.Data[0].ID != 10 {
		t.Errorf("data = %+v", page.Data)
	}
	if page.Meta.CurrentPage != 2 || page.Meta.LastPage != 4 {
		t.Errorf("meta = %+v", page.Meta)
	}
}

func TestListMessagesPath(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/communications/clients/33/contacts/44" {
			t.Errorf("path = %q", r.URL.Path)
		}
		_, _ = io.WriteString(w, `{
			"data": [{"id": 2, "message": "newest"}, {"id": 1, "message": "older"}],
			"meta": {"current_page": 1, "last_page": 1}
		}`)
	})

	mp, err := c.ListMessages(context.Background(), "clients", 33, 44, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(mp.Data) != 2 || mp.Data[0].Text != "newest" {
		t.Errorf("data = %+v", mp.Data)
	}
}

func TestSendMessageBody(t *testing.T) {
	var got SendRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/e-chat/dialogs/messages" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatal(err)
		}
		_, _ = io.WriteString(w, `{"message_id": 500}`)
	})

	req := SendRequest{
		Phone:            "+380501112233",
		Message:          "hello",
		MessengerID:      1,
		ContragentType:   "lead",
		ContragentID:     10,
		ContactID:        7,
		ClientMessageUID: "msg_1700000000000_ab12cd34e",
	}
	res, err := c.SendMessage(context.Background(), req)
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if res.Failed() {
		t.Errorf("unexpected failure: %+v", res)
	}
	if got.ClientMessageUID != req.ClientMessageUID || got.ContragentType != "lead" {
		t.Errorf("request body = %+v", got)
	}
}

func TestSendMessageApplicationError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"error": "delivery_failed", "description": "recipient blocked the bot"}`)
	})

	res, err := c.SendMessage(context.Background(), SendRequest{})
	if err != nil {
		t.Fatalf("transport error = %v, want in-band failure", err)
	}
	if !res.Failed() {
		t.Fatal("Failed() = false for error response")
	}
	if res.FailureDetail() != "recipient blocked the bot" {
		t.Errorf("FailureDetail() = %q", res.FailureDetail())
	}
}

func TestUploadFile(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/e-chat/dialogs/files" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatal(err)
		}
		f, hdr, err := r.FormFile("file_for_message")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer func() { _ = f.Close() }()
		if hdr.Filename != "invoice.pdf" {
			t.Errorf("filename = %q", hdr.Filename)
		}
		data, _ := io.ReadAll(f)
		if string(data) != "pdf-bytes" {
			t.Errorf("content = %q", data)
		}
		_, _ = io.WriteString(w, `{"file_url": "https://files.example.com/invoice.pdf"}`)
	})

	url, err := c.UploadFile(context.Background(), "invoice.pdf", strings.NewReader("pdf-bytes"))
	if err != nil {
		t.Fatalf("UploadFile() error = %v", err)
	}
	if url != "https://files.example.com/invoice.pdf" {
		t.Errorf("url = %q", url)
	}
}

func TestStatusError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	})

	_, err := c.GetMessage(context.Background(), 1)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("error = %v, want StatusError", err)
	}
	if se.Code != http.StatusUnauthorized {
		t.Errorf("Code = %d", se.Code)
	}
}
