package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
tracker:
  space_key: acme
  project_ids: ["1", "2"]
schedule:
  timezone: UTC
fetch:
  task_timeout: 3s
`)
	c := Load(path)
	assert.Equal(t, "acme", c.Tracker.SpaceKey)
	assert.Equal(t, []string{"1", "2"}, c.Tracker.ProjectIDs)
	assert.Equal(t, "UTC", c.Schedule.Timezone)
	assert.Equal(t, 3*time.Second, c.Fetch.TaskTimeout)
	assert.Equal(t, 10*time.Second, c.Fetch.ChatTimeout, "unset keys keep defaults")
	assert.Equal(t, 3, c.Delivery.MaxRetries)
	assert.Equal(t, "0 10 * * *", c.Schedule.DailyReport)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, "tracker:\n  api_key: from-file\n")
	t.Setenv("BACKLOG_API_KEY", "from-env")
	t.Setenv("BACKLOG_PROJECT_IDS", " 10, ,20 ")
	t.Setenv("PORT", "8080")
	t.Setenv("DB_PORT", "not-a-number")

	c := Load(path)
	assert.Equal(t, "from-env", c.Tracker.APIKey)
	assert.Equal(t, []string{"10", "20"}, c.Tracker.ProjectIDs)
	assert.Equal(t, 8080, c.Server.Port)
	assert.Equal(t, 3306, c.Database.Port)
	assert.Equal(t, ":8080", c.Addr())
}

func TestValidate(t *testing.T) {
	c := Default()
	err := c.Validate()
	require.Error(t, err)
	for _, want := range []string{"tracker.api_key", "tracker.project_ids", "slack.bot_token", "slack.channel"} {
		assert.Contains(t, err.Error(), want)
	}

	c.Tracker.APIKey, c.Tracker.SpaceKey, c.Tracker.ProjectIDs = "k", "acme", []string{"1"}
	c.Slack.BotToken, c.Slack.Channel = "xoxb-1", "C1"
	require.NoError(t, c.Validate())

	c.Schedule.WeekStart = "someday"
	c.Schedule.Timezone = "Mars/Olympus"
	c.Database.Driver = "postgres"
	err = c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "week_start")
	assert.Contains(t, err.Error(), "timezone")
	assert.Contains(t, err.Error(), "postgres")
}

func TestWeekStartDay(t *testing.T) {
	c := Default()
	d, err := c.WeekStartDay()
	require.NoError(t, err)
	assert.Equal(t, time.Monday, d)

	c.Schedule.WeekStart = "Sunday"
	d, err = c.WeekStartDay()
	require.NoError(t, err)
	assert.Equal(t, time.Sunday, d)
}

func TestNewRawClientUnconfigured(t *testing.T) {
	client, err := Default().NewRawClient()
	require.NoError(t, err)
	assert.Nil(t, client)
}
