package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/agentbackend/pkg/slack"
)

func TestService_NilReceiver(t *testing.T) {
	var s *Service

	assert.NotPanics(t, func() {
		s.NotifyDeadLetter(context.Background(), "id-1", "webhook.delivery", "https://example.com/hook", "connection refused")
	})
	assert.NotPanics(t, func() {
		s.NotifyBacklog(context.Background(), "reminder.work_item.not_before", 500)
	})
}

func TestNewService_ReturnsNilWithoutTokenOrChannel(t *testing.T) {
	assert.Nil(t, NewService(Config{Token: "", Channel: "C1"}))
	assert.Nil(t, NewService(Config{Token: "xoxb-test", Channel: ""}))
	assert.NotNil(t, NewService(Config{Token: "xoxb-test", Channel: "C1"}))
}

func TestService_NotifyBacklog_SkipsBelowThreshold(t *testing.T) {
	var posts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&posts, 1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	client := slack.NewClientWithAPIURL("xoxb-test", "C1", srv.URL+"/")
	svc := NewServiceWithClient(client, 10)

	svc.NotifyBacklog(context.Background(), "reminder.work_item.not_before", 3)
	require.Equal(t, int32(0), atomic.LoadInt32(&posts), "below threshold must not post")

	svc.NotifyBacklog(context.Background(), "reminder.work_item.not_before", 10)
	require.Equal(t, int32(2), atomic.LoadInt32(&posts), "at-or-above threshold must look up an existing thread and post")
}

func TestService_NotifyDeadLetter_Posts(t *testing.T) {
	var posts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&posts, 1)
		w.Header().Set("Content-Type", "application/json")
		if strings.Contains(r.URL.Path, "conversations.history") {
			_, _ = w.Write([]byte(`{"ok":true,"messages":[]}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	client := slack.NewClientWithAPIURL("xoxb-test", "C1", srv.URL+"/")
	svc := NewServiceWithClient(client, 0)

	svc.NotifyDeadLetter(context.Background(), "ob-1", "webhook.delivery", "https://example.com/hook", "timeout")
	require.Equal(t, int32(2), atomic.LoadInt32(&posts), "expect one history lookup and one post")
}

func TestService_NotifyBacklog_ThreadsRepeatAlertsUnderFirstMessage(t *testing.T) {
	var postedThreadTS atomic.Value
	postedThreadTS.Store("")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if strings.Contains(r.URL.Path, "conversations.history") {
			_, _ = w.Write([]byte(`{
				"ok": true,
				"messages": [{"type": "message", "ts": "1700000000.000001", "text": "job backlog kind:reminder.work_item.not_before"}]
			}`))
			return
		}
		_ = r.ParseForm()
		postedThreadTS.Store(r.FormValue("thread_ts"))
		_, _ = w.Write([]byte(`{"ok":true,"ts":"1700000001.000002"}`))
	}))
	defer srv.Close()

	client := slack.NewClientWithAPIURL("xoxb-test", "C1", srv.URL+"/")
	svc := NewServiceWithClient(client, 10)

	svc.NotifyBacklog(context.Background(), "reminder.work_item.not_before", 15)

	assert.Equal(t, "1700000000.000001", postedThreadTS.Load(),
		"a matching fingerprint in recent history should thread the new alert under it")
}
