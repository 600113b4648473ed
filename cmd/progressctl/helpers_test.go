package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smart-progress/internal/model"
)

func TestDayOr(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*3600)
	today := time.Date(2024, 3, 13, 0, 0, 0, 0, tokyo)

	got, err := dayOr("", today)
	require.NoError(t, err)
	assert.Equal(t, today, got)

	got, err = dayOr("2024-03-11", today)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 11, 0, 0, 0, 0, tokyo), got)

	_, err = dayOr("11/03/2024", today)
	require.Error(t, err)
	_, err = dayOr("", time.Time{})
	require.Error(t, err)
}

func TestFormatLinks(t *testing.T) {
	id := model.Identity{Links: []model.IdentityLink{
		{Space: model.SpaceTracker, ExternalID: "7"},
		{Space: model.SpaceChat, ExternalID: "U1"},
	}}
	assert.Equal(t, "tracker:7, chat:U1", formatLinks(id))
}
