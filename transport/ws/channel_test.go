package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fubhy/jazz/ids"
	"github.com/fubhy/jazz/syncmanager"
)

func TestChannelRoundTripsMessages(t *testing.T) {
	serverCh := make(chan *Channel, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := Upgrade(nil, w, r)
		require.NoError(t, err)
		serverCh <- c
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, err := Dial(context.Background(), nil, wsURL)
	require.NoError(t, err)
	defer client.Close()

	server := <-serverCh
	defer server.Close()

	want := syncmanager.Message{Kind: syncmanager.KindKnown, ID: ids.CoID("co_ztest"), Sessions: map[ids.SessionID]int{"s": 3}}
	require.NoError(t, client.Send(want))

	done := make(chan syncmanager.Message, 1)
	go func() {
		for {
			msg, err := server.Recv()
			if err != nil {
				return
			}
			if msg.Kind == syncmanager.KindPing {
				continue
			}
			done <- msg
			return
		}
	}()

	select {
	case got := <-done:
		assert.Equal(t, want.ID, got.ID)
		assert.Equal(t, want.Sessions, got.Sessions)
	case <-time.After(2 * time.Second):
		t.Fatal("message never arrived")
	}
}
