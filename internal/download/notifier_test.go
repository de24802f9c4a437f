package download

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestFormatETA(t *testing.T) {
	tests := []struct {
		seconds int64
		want    string
	}{
		{-1, ""},
		{0, "0:00"},
		{59, "0:59"},
		{61, "1:01"},
		{3600, "1:00:00"},
		{3725, "1:02:05"},
	}

	for _, tt := range tests {
		if got := FormatETA(tt.seconds); got != tt.want {
			t.Errorf("FormatETA(%d) = %q, want %q", tt.seconds, got, tt.want)
		}
	}
}

func TestProgressNotifierBroadcast(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pn := NewProgressNotifier(nil)
	pn.Start(ctx)

	client := NewClient()
	pn.Register(client)
	waitFor(t, func() bool { return pn.GetClientCount() == 1 })

	pn.NotifyStarted("abc")
	pn.NotifyProgress("abc", 42.5, 75)

	var msgs []Message
	for len(msgs) < 2 {
		select {
		case data := <-client.SendChan:
			var m Message
			if err := json.Unmarshal(data, &m); err != nil {
				t.Fatalf("invalid event: %v", err)
			}
			msgs = append(msgs, m)
		case <-time.After(2 * time.Second):
			t.Fatalf("received %d events, want 2", len(msgs))
		}
	}

	if msgs[0].Type != "status" || msgs[1].Type != "progress" {
		t.Errorf("event types = %s, %s", msgs[0].Type, msgs[1].Type)
	}
	payload := msgs[1].Payload.(map[string]interface{})
	if payload["track_id"] != "abc" || payload["eta"] != "1:15" {
		t.Errorf("progress payload = %v", payload)
	}

	pn.Unregister(client)
	waitFor(t, func() bool { return pn.GetClientCount() == 0 })
	if client.Send([]byte("x")) {
		t.Error("Send on an unregistered client should fail")
	}
}

func TestProgressNotifierClosesClientsOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	pn := NewProgressNotifier(nil)
	pn.Start(ctx)

	client := NewClient()
	pn.Register(client)
	waitFor(t, func() bool { return pn.GetClientCount() == 1 })

	cancel()

	select {
	case _, ok := <-client.SendChan:
		if ok {
			t.Error("expected closed channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("client not closed on shutdown")
	}
}

func TestProgressNotifierStats(t *testing.T) {
	pn := NewProgressNotifier(nil)

	pn.NotifyStarted("a")
	pn.NotifyStarted("b")
	pn.NotifyStage("a", StageDownloading)
	pn.NotifyProgress("a", 10, 5)

	stats := pn.GetStats()
	if stats.ActiveDownloads != 2 || stats.TotalDownloads != 2 {
		t.Fatalf("stats = %+v", stats)
	}
	for _, s := range stats.Active {
		if s.TrackID == "a" && (s.Stage != StageDownloading || s.Percent != 10) {
			t.Errorf("stats for a = %+v", s)
		}
	}

	pn.NotifyCompleted("a")
	pn.NotifyFailed("b", errors.New("boom"))

	stats = pn.GetStats()
	if stats.ActiveDownloads != 0 || stats.SuccessCount != 1 || stats.FailureCount != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestClientCloseIsIdempotent(t *testing.T) {
	c := NewClient()
	if c.ID == "" {
		t.Error("client id not set")
	}
	c.Close()
	c.Close()
	if c.Send([]byte("x")) {
		t.Error("Send after Close should fail")
	}
}

func TestCallbackNotifier(t *testing.T) {
	cn := NewCallbackNotifier(nil)

	var mu sync.Mutex
	var statuses []string
	var etas []string

	cn.SetStatusCallback(func(trackID, status, detail string) {
		mu.Lock()
		defer mu.Unlock()
		statuses = append(statuses, status+":"+detail)
	})
	cn.SetProgressCallback(func(trackID string, percent float64, eta string) {
		mu.Lock()
		defer mu.Unlock()
		etas = append(etas, eta)
	})

	cn.NotifyStarted("a")
	cn.NotifyStage("a", StageTagging)
	cn.NotifyProgress("a", 50, 90)
	cn.NotifyFailed("a", errors.New("gone"))

	want := []string{"started:", "stage:tagging", "failed:gone"}
	if len(statuses) != len(want) {
		t.Fatalf("statuses = %v", statuses)
	}
	for i := range want {
		if statuses[i] != want[i] {
			t.Errorf("status %d = %q, want %q", i, statuses[i], want[i])
		}
	}
	if len(etas) != 1 || etas[0] != "1:30" {
		t.Errorf("etas = %v", etas)
	}
}

func TestCallbackNotifierRecoversPanics(t *testing.T) {
	cn := NewCallbackNotifier(nil)
	cn.SetStatusCallback(func(string, string, string) { panic("callback") })
	cn.SetProgressCallback(func(string, float64, string) { panic("callback") })

	cn.NotifyCompleted("a")
	cn.NotifyProgress("a", 1, 1)
}

func TestMultiNotifier(t *testing.T) {
	a, b := &recordingNotifier{}, &recordingNotifier{}
	m := MultiNotifier{a, b}

	m.NotifyStarted("x")
	m.NotifyCompleted("x")

	for _, n := range []*recordingNotifier{a, b} {
		if got := n.Events(); len(got) != 2 || got[1] != "completed:x" {
			t.Errorf("events = %v", got)
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
