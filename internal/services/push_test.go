package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/sideshow/apns2"
	"github.com/stretchr/testify/require"
)

func TestIsExpoToken(t *testing.T) {
	require.True(t, IsExpoToken("ExponentPushToken[abc]"))
	require.True(t, IsExpoToken("ExpoPushToken[abc]"))
	require.False(t, IsExpoToken("a1b2c3d4e5f6"))
}

func TestExpoClient_SendBatches(t *testing.T) {
	var (
		mu      sync.Mutex
		batches [][]expoMessage
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var batch []expoMessage
		require.NoError(t, json.NewDecoder(r.Body).Decode(&batch))
		mu.Lock()
		batches = append(batches, batch)
		mu.Unlock()

		tickets := make([]expoTicket, len(batch))
		for i := range tickets {
			tickets[i].Status = "ok"
		}
		tickets[0].Status = "error"
		tickets[0].Details.Error = "DeviceNotRegistered"
		_ = json.NewEncoder(w).Encode(expoResponse{Data: tickets})
	}))
	defer srv.Close()

	rec := &fakeRecorder{}
	client := NewExpoClient(srv.URL, "secret", rec)

	tokens := make([]string, 150)
	for i := range tokens {
		tokens[i] = fmt.Sprintf("ExponentPushToken[%d]", i)
	}

	require.NoError(t, client.Send(context.Background(), tokens, InvitationMessage("123456")))
	require.Len(t, batches, 2)
	require.Len(t, batches[0], 100)
	require.Len(t, batches[1], 50)
	require.Equal(t, "Join", batches[0][0].Data["screen"])
	require.Equal(t, "123456", batches[0][0].Data["invitationCode"])
	require.Equal(t, 148, rec.pushes["expo:true"])
	require.Equal(t, 2, rec.pushes["expo:false"])
}

func TestExpoClient_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewExpoClient(srv.URL, "", nil)
	err := client.Send(context.Background(), []string{"ExponentPushToken[a]"}, InvitationMessage("1"))
	require.ErrorContains(t, err, "status 429")
}

type fakeAPNs struct {
	sent []*apns2.Notification
}

func (f *fakeAPNs) PushWithContext(_ apns2.Context, n *apns2.Notification) (*apns2.Response, error) {
	f.sent = append(f.sent, n)
	if n.DeviceToken == "bad" {
		return &apns2.Response{StatusCode: http.StatusBadRequest, Reason: apns2.ReasonBadDeviceToken}, nil
	}
	return &apns2.Response{StatusCode: http.StatusOK}, nil
}

func TestAPNsClient_Send(t *testing.T) {
	pusher := &fakeAPNs{}
	rec := &fakeRecorder{}
	client := &APNsClient{client: pusher, topic: "com.example.circles", recorder: rec}

	require.NoError(t, client.Send(context.Background(), []string{"good", "bad"}, InvitationMessage("654321")))
	require.Len(t, pusher.sent, 2)
	require.Equal(t, "com.example.circles", pusher.sent[0].Topic)

	body, err := json.Marshal(pusher.sent[0].Payload)
	require.NoError(t, err)
	require.Contains(t, string(body), `"invitationCode":"654321"`)

	require.Equal(t, 1, rec.pushes["apns:true"])
	require.Equal(t, 1, rec.pushes["apns:false"])
}

func TestDispatcher_RoutesByTokenShape(t *testing.T) {
	expo := &fakeNotifier{}
	apns := &fakeNotifier{err: errors.New("apns down")}
	d := NewDispatcher(expo, apns)

	err := d.Send(context.Background(), []string{"ExponentPushToken[a]", "device-1", "ExpoPushToken[b]"}, PushMessage{Title: "x"})
	require.ErrorContains(t, err, "apns down")
	require.Equal(t, []string{"ExponentPushToken[a]", "ExpoPushToken[b]"}, expo.tokens)
	require.Equal(t, []string{"device-1"}, apns.tokens)

	withoutAPNs := NewDispatcher(expo, nil)
	require.NoError(t, withoutAPNs.Send(context.Background(), []string{"device-2"}, PushMessage{}))
}
