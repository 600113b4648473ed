package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smart-progress/internal/config"
	"smart-progress/internal/model"
)

func issueJSON(n int, status int, due string) map[string]any {
	is := map[string]any{
		"id":        n,
		"projectId": 100,
		"issueKey":  "API-" + strconv.Itoa(n),
		"summary":   fmt.Sprintf("issue %d", n),
		"status":    map[string]any{"id": status, "name": "x"},
		"priority":  map[string]any{"id": 3, "name": "Normal"},
		"created":   "2024-03-01T00:00:00Z",
		"updated":   "2024-03-12T09:30:00Z",
		"assignee":  map[string]any{"id": 7, "name": "Alice"},
	}
	if due != "" {
		is["dueDate"] = due
	}
	return is
}

func TestBacklogFetchTasksPaginates(t *testing.T) {
	var offsets []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/issues", r.URL.Path)
		assert.Equal(t, "secret-key", r.URL.Query().Get("apiKey"))
		assert.Equal(t, "100", r.URL.Query().Get("projectId[]"))
		offsets = append(offsets, r.URL.Query().Get("offset"))

		var page []map[string]any
		if r.URL.Query().Get("offset") == "0" {
			for i := 1; i <= backlogPageSize; i++ {
				page = append(page, issueJSON(i, 1, ""))
			}
		} else {
			page = append(page, issueJSON(101, 4, "2024-03-15T00:00:00Z"))
		}
		_ = json.NewEncoder(w).Encode(page)
	}))
	defer srv.Close()

	tokyo := time.FixedZone("JST", 9*3600)
	c := NewBacklogClient(config.TrackerConfig{BaseURL: srv.URL, APIKey: "secret-key", RatePerSec: 100}, tokyo)
	items, err := c.FetchTasks(context.Background(), "100")
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "100"}, offsets)
	require.Len(t, items, 101)

	first := items[0]
	assert.Equal(t, "API-1", first.ID)
	assert.Equal(t, "100", first.ProjectID)
	assert.Equal(t, "7", first.AssigneeID)
	assert.Equal(t, model.StatusOpen, first.Status)
	assert.Nil(t, first.DueDate)
	assert.Nil(t, first.CompletedAt)

	last := items[100]
	assert.Equal(t, model.StatusClosed, last.Status)
	require.NotNil(t, last.DueDate)
	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, tokyo), *last.DueDate)
	require.NotNil(t, last.CompletedAt)
	assert.True(t, last.CompletedAt.Equal(last.UpdatedAt))
	assert.Equal(t, srv.URL+"/view/API-101", last.URL)
}

func TestBacklogSkipsMalformedIssues(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bad := issueJSON(2, 1, "")
		bad["created"] = "not-a-date"
		_ = json.NewEncoder(w).Encode([]map[string]any{issueJSON(1, 1, ""), bad, issueJSON(3, 2, "")})
	}))
	defer srv.Close()

	c := NewBacklogClient(config.TrackerConfig{BaseURL: srv.URL, APIKey: "k", RatePerSec: 100}, time.UTC)
	items, err := c.FetchTasks(context.Background(), "100")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "API-1", items[0].ID)
	assert.Equal(t, "API-3", items[1].ID)
}

func TestBacklogErrorKinds(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, `{}`, model.ErrAuthentication},
		{"rate limited", http.StatusTooManyRequests, `{}`, model.ErrTransientSource},
		{"server error", http.StatusBadGateway, `{}`, model.ErrTransientSource},
		{"garbage", http.StatusOK, `<html>`, model.ErrMalformedRecord},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewBacklogClient(config.TrackerConfig{BaseURL: srv.URL, APIKey: "k"}, time.UTC)
			_, err := c.FetchTasks(context.Background(), "100")
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestBacklogNotFoundIsNotRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"errors":[{"message":"No project"}]}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewBacklogClient(config.TrackerConfig{BaseURL: srv.URL, APIKey: "k"}, time.UTC)
	_, err := c.FetchTasks(context.Background(), "404")
	require.Error(t, err)
	assert.False(t, model.IsTransient(err))
	assert.NotContains(t, err.Error(), "apiKey")
}

func aiServer(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/llm-proxy/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "moi-secret", r.Header.Get("moi-key"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": reply}}},
		})
	}))
}

func TestAIClassify(t *testing.T) {
	srv := aiServer(t, "```json\n{\"category\":\"Blocked\",\"sentiment\":\"negative\",\"summary\":\"waiting on review\"}\n```")
	defer srv.Close()

	ai := NewAIService(config.AIConfig{BaseURL: srv.URL, APIKey: "moi-secret", Model: "qwen-plus"})
	require.True(t, ai.Enabled())
	c, err := ai.Classify(context.Background(), "API-1 blocked on review")
	require.NoError(t, err)
	assert.Equal(t, model.CategoryBlocked, c.Category)
	assert.Equal(t, model.SentimentNegative, c.Sentiment)
	assert.Equal(t, "waiting on review", c.Summary)
}

func TestAIClassifyRejectsUnknownCategory(t *testing.T) {
	srv := aiServer(t, `{"category":"celebrating","sentiment":"positive"}`)
	defer srv.Close()

	ai := NewAIService(config.AIConfig{BaseURL: srv.URL, APIKey: "moi-secret"})
	_, err := ai.Classify(context.Background(), "party")
	require.Error(t, err)

	_, err = NewAIService(config.AIConfig{}).Classify(context.Background(), "x")
	require.Error(t, err)
}

func TestGitHubFetchCommits(t *testing.T) {
	since := time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC)
	until := since.AddDate(0, 0, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/acme/api/commits", r.URL.Path)
		assert.NotEmpty(t, r.URL.Query().Get("since"))
		_, _ = w.Write([]byte(`[
			{"sha":"a1","commit":{"message":"Fix API-2","author":{"email":"bob@acme.io","date":"2024-03-12T10:00:00Z"}},"author":{"login":"bob"}},
			{"sha":"b2","commit":{"message":"Docs","author":{"email":"eve@acme.io","date":"2024-03-12T11:00:00Z"}}}
		]`))
	}))
	defer srv.Close()

	g, err := NewGitHubSource(config.VCSConfig{Token: "ghp_x"}, srv.URL)
	require.NoError(t, err)
	commits, err := g.FetchCommits(context.Background(), "acme/api", since, until)
	require.NoError(t, err)
	want := []model.Commit{
		{Repo: "acme/api", SHA: "a1", Author: "bob", Message: "Fix API-2", Time: time.Date(2024, 3, 12, 10, 0, 0, 0, time.UTC)},
		{Repo: "acme/api", SHA: "b2", Author: "eve@acme.io", Message: "Docs", Time: time.Date(2024, 3, 12, 11, 0, 0, 0, time.UTC)},
	}
	require.Len(t, commits, 2)
	for i := range want {
		assert.True(t, want[i].Time.Equal(commits[i].Time))
		commits[i].Time = want[i].Time
	}
	assert.Equal(t, want, commits)

	_, err = g.FetchCommits(context.Background(), "not-a-repo", since, until)
	require.Error(t, err)
}

func TestGitHubAuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"Bad credentials"}`))
	}))
	defer srv.Close()

	g, err := NewGitHubSource(config.VCSConfig{}, srv.URL)
	require.NoError(t, err)
	_, err = g.FetchCommits(context.Background(), "acme/api", time.Now().Add(-time.Hour), time.Now())
	require.ErrorIs(t, err, model.ErrAuthentication)
}

func slackServer(t *testing.T, routes map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := routes[r.URL.Path]
		if !ok {
			t.Errorf("unexpected slack call %s", r.URL.Path)
			body = `{"ok":false,"error":"unknown_method"}`
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
}

func TestSlackFetchRepliesSkipsParentAndBots(t *testing.T) {
	srv := slackServer(t, map[string]string{
		"/conversations.replies": `{"ok":true,"has_more":false,"messages":[
			{"type":"message","user":"UBOT","bot_id":"B1","text":"check-in","ts":"1710300000.000100","thread_ts":"1710300000.000100"},
			{"type":"message","user":"U1","text":"Today: API-2","ts":"1710300100.000200","thread_ts":"1710300000.000100"},
			{"type":"message","subtype":"channel_join","user":"U3","text":"joined","ts":"1710300150.000200"},
			{"type":"message","user":"U2","bot_id":"B2","text":"beep","ts":"1710300200.000200","thread_ts":"1710300000.000100"}
		]}`,
		"/users.info": `{"ok":true,"user":{"id":"U1","name":"alice","real_name":"Alice Doe","profile":{"display_name":"ali"}}}`,
	})
	defer srv.Close()

	m := NewSlackMessenger(config.SlackConfig{BotToken: "xoxb-test"}, slack.OptionAPIURL(srv.URL+"/"))
	replies, err := m.FetchReplies(context.Background(), "C1", "1710300000.000100")
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Equal(t, "U1", replies[0].UserID)
	assert.Equal(t, "ali", replies[0].UserName)
	assert.Equal(t, "1710300000.000100", replies[0].ThreadTS)
	assert.Equal(t, int64(1710300100), replies[0].Time.Unix())
}

func TestSlackFetchHistory(t *testing.T) {
	srv := slackServer(t, map[string]string{
		"/conversations.history": `{"ok":true,"has_more":false,"messages":[
			{"type":"message","subtype":"thread_broadcast","user":"U1","text":"API-9 merged","ts":"1710324000.000100","thread_ts":"1710000000.000100"},
			{"type":"message","user":"U1","text":"broken","ts":"garbage"},
			{"type":"message","user":"U1","text":"Working on API-2","ts":"1710320400.000100","thread_ts":"1710320400.000100","reply_count":1}
		]}`,
		"/conversations.replies": `{"ok":true,"has_more":false,"messages":[
			{"type":"message","user":"U1","text":"Working on API-2","ts":"1710320400.000100","thread_ts":"1710320400.000100","reply_count":1},
			{"type":"message","user":"U1","text":"API-2 done","ts":"1710322200.000100","thread_ts":"1710320400.000100"}
		]}`,
		"/users.info": `{"ok":true,"user":{"id":"U1","name":"alice","profile":{"display_name":"ali"}}}`,
	})
	defer srv.Close()

	m := NewSlackMessenger(config.SlackConfig{BotToken: "xoxb-test"}, slack.OptionAPIURL(srv.URL+"/"))
	day := time.Date(2024, 3, 13, 0, 0, 0, 0, time.UTC)
	msgs, err := m.FetchHistory(context.Background(), "C1", day, day.AddDate(0, 0, 1))
	require.NoError(t, err)

	var texts []string
	for _, cm := range msgs {
		texts = append(texts, cm.Text)
	}
	assert.Equal(t, []string{"Working on API-2", "API-2 done", "API-9 merged"}, texts)
	assert.Equal(t, "ali", msgs[0].UserName)
	assert.Equal(t, "1710000000.000100", msgs[2].ThreadTS)
}

func TestSlackPostMessageErrors(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		permanent bool
	}{
		{"channel not found", `{"ok":false,"error":"channel_not_found"}`, true},
		{"internal error", `{"ok":false,"error":"internal_error"}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := slackServer(t, map[string]string{"/chat.postMessage": tt.body})
			defer srv.Close()

			m := NewSlackMessenger(config.SlackConfig{BotToken: "xoxb-test"}, slack.OptionAPIURL(srv.URL+"/"))
			_, err := m.PostMessage(context.Background(), "C1", "hello")
			require.Error(t, err)
			assert.Equal(t, tt.permanent, model.IsPermanent(err))
			assert.Equal(t, !tt.permanent, model.IsTransient(err))
		})
	}
}

func TestSlackPostMessage(t *testing.T) {
	srv := slackServer(t, map[string]string{
		"/chat.postMessage": `{"ok":true,"channel":"C1","ts":"1710300000.000100"}`,
	})
	defer srv.Close()

	m := NewSlackMessenger(config.SlackConfig{BotToken: "xoxb-test"}, slack.OptionAPIURL(srv.URL+"/"))
	ts, err := m.PostMessage(context.Background(), "C1", "hello")
	require.NoError(t, err)
	assert.Equal(t, "1710300000.000100", ts)
	assert.Equal(t, "<@U1>", m.FormatMention("U1"))
}

func TestSlackTimestamps(t *testing.T) {
	at := time.Date(2024, 3, 13, 9, 0, 0, 123456000, time.UTC)
	ts := slackTS(at)
	assert.Equal(t, "1710320400.123456", ts)
	got, err := parseSlackTS(ts)
	require.NoError(t, err)
	assert.True(t, got.Equal(at))
	assert.Equal(t, "", slackTS(time.Time{}))

	_, err = parseSlackTS("abc")
	require.ErrorIs(t, err, model.ErrMalformedRecord)
}
