package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osakana/kintai-bot/internal/line"
)

func TestLineNotifier_PushesText(t *testing.T) {
	var got struct {
		To       string `json:"to"`
		Messages []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/bot/message/push", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewLineNotifier(line.NewClient(line.Config{Endpoint: srv.URL, ChannelToken: "tok"}))
	require.NoError(t, n.Notify(context.Background(), "U1", "開始時刻を記録しました。"))

	assert.Equal(t, "U1", got.To)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "開始時刻を記録しました。", got.Messages[0].Text)
}

func TestNoop(t *testing.T) {
	assert.NoError(t, Noop{}.Notify(context.Background(), "U1", "x"))
}
