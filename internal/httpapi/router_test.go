package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/reminders/internal/clientstore"
	"github.com/nhle/reminders/internal/inbox"
	"github.com/nhle/reminders/internal/model"
	"github.com/nhle/reminders/internal/scanner"
)

type stubScanner struct {
	calls int
	res   scanner.Result
}

func (s *stubScanner) Scan(context.Context) scanner.Result {
	s.calls++
	return s.res
}

func TestHealthz(t *testing.T) {
	srv := httptest.NewServer(NewRouter(Options{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestScanEndpoint(t *testing.T) {
	stub := &stubScanner{res: scanner.Result{
		Kinds: map[model.ReminderKind]*scanner.KindCount{
			model.ReminderKindCustom: {Candidates: 2, Sent: 1, Failed: 1},
		},
		Errors: []scanner.RecordError{{
			Kind: model.ReminderKindCustom, ReminderID: "r2",
			Class: model.ErrorClassRecipient, Message: "account has no email",
		}},
	}}

	req := httptest.NewRequest(http.MethodPost, "/v1/reminders/scan", nil)
	rec := httptest.NewRecorder()
	NewRouter(Options{Scanner: stub}).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, stub.calls)

	var body struct {
		Kinds  map[string]scanner.KindCount `json:"kinds"`
		Errors []struct {
			ReminderID string `json:"reminder_id"`
			Class      string `json:"class"`
		} `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Kinds["custom"].Sent)
	require.Len(t, body.Errors, 1)
	assert.Equal(t, "r2", body.Errors[0].ReminderID)
	assert.Equal(t, "recipient", body.Errors[0].Class)

	// GET is not routed.
	rec = httptest.NewRecorder()
	NewRouter(Options{Scanner: stub}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/reminders/scan", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestListNotifications(t *testing.T) {
	backend := clientstore.NewMemory()
	now := time.Now()

	delegate := model.DelegateIdentity("acct1", "helper@example.com")
	s := inbox.New(model.IdentityDelegate, backend, inbox.WithClock(func() time.Time { return now }))
	require.NoError(t, s.SetIdentity(context.Background(), delegate))
	require.True(t, s.OnEvent(model.NotificationEvent{
		Type:       model.NotificationCustomReminder,
		Title:      "Follow up",
		ActionData: map[string]string{"reminderId": "r1"},
	}))

	router := NewRouter(Options{Notifications: backend})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/v1/notifications?audience=delegate&account_id=acct1&email=Helper@Example.com", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body notificationsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Unread)
	require.Len(t, body.Notifications, 1)
	assert.Equal(t, "custom_reminder:r1", body.Notifications[0].ID)

	// The account audience has its own list.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/notifications?account_id=acct1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Empty(t, body.Notifications)
}

func TestListNotifications_DoesNotWrite(t *testing.T) {
	backend := clientstore.NewMemory()
	id := model.AccountIdentity("acct1")
	stale := time.Now().Add(-8 * 24 * time.Hour)

	// Written eight days ago, so the only entry is past retention today.
	s := inbox.New(model.IdentityAccount, backend, inbox.WithClock(func() time.Time { return stale }))
	require.NoError(t, s.SetIdentity(context.Background(), id))
	require.True(t, s.OnEvent(model.NotificationEvent{
		Type:       model.NotificationTaskReminder,
		Title:      "Invoice",
		ActionData: map[string]string{"taskId": "t1"},
	}))
	s.Close()

	before, err := backend.Load(context.Background(), id.StorageKey())
	require.NoError(t, err)
	require.NotEmpty(t, before)

	rec := httptest.NewRecorder()
	NewRouter(Options{Notifications: backend}).ServeHTTP(rec,
		httptest.NewRequest(http.MethodGet, "/v1/notifications?account_id=acct1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body notificationsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Empty(t, body.Notifications)
	assert.Zero(t, body.Unread)

	after, err := backend.Load(context.Background(), id.StorageKey())
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestListNotifications_BadQuery(t *testing.T) {
	router := NewRouter(Options{Notifications: clientstore.NewMemory()})

	for _, q := range []string{
		"",
		"?audience=delegate&account_id=acct1",
		"?audience=admin&account_id=acct1",
	} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/notifications"+q, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)

		var body errorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.NotEmpty(t, body.Error)
	}
}
