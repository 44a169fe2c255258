package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventType_String(t *testing.T) {
	tests := []struct {
		typ  EventType
		want string
	}{
		{EventUnset, "unset"},
		{EventPage, "page"},
		{EventQRFound, "qr_found"},
		{EventError, "error"},
		{EventSummary, "summary"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.typ.String())
	}
}

func TestEventType_IsValid(t *testing.T) {
	tests := []struct {
		typ  EventType
		want bool
	}{
		{EventPage, true},
		{EventQRFound, true},
		{EventError, true},
		{EventSummary, true},
		{EventStatus, false},
		{EventComplete, false},
		{EventUnset, false},
		{EventType("arbitrary"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.typ.IsValid(), "EventType(%q).IsValid()", string(tt.typ))
	}
}

func TestEventType_IsTransport(t *testing.T) {
	assert.True(t, EventStatus.IsTransport())
	assert.True(t, EventComplete.IsTransport())
	assert.False(t, EventPage.IsTransport())
}

func TestEvent_JSONShape(t *testing.T) {
	ev := Event{
		Type:         EventQRFound,
		TotalQRCodes: 2,
		Finding: &QrFinding{
			SourceURL:       "https://example.com/",
			ImageURL:        "https://example.com/qr.png",
			Payload:         "weixin://x",
			IsWechatVariant: true,
			Depth:           1,
		},
	}
	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "qr_found", decoded["type"])
	assert.EqualValues(t, 2, decoded["totalQRCodes"])
	qr := decoded["qrData"].(map[string]any)
	assert.Equal(t, "weixin://x", qr["content"])
	assert.Equal(t, true, qr["isWechatQr"])
	assert.NotContains(t, decoded, "processedCount")
}

func TestPageResult_Found(t *testing.T) {
	assert.True(t, PageResult{Payload: "x"}.Found())
	assert.False(t, PageResult{Payload: "x", Error: "boom"}.Found())
	assert.False(t, PageResult{}.Found())
}
