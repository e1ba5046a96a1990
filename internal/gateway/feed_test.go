package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/flemzord/skillgate/internal/audit"
	"github.com/flemzord/skillgate/internal/capability"
	"github.com/flemzord/skillgate/internal/executor"
)

func TestAuditFeed_StreamsRecords(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	e.register(t, capability.Capability{Name: "calc", Kind: capability.KindTemplate, Template: executor.TemplateCalculator}, true)

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws/audit"
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + testToken}},
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	// The subscription is registered after the upgrade; retry until the
	// record arrives.
	got := make(chan audit.Record, 1)
	go func() {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var rec audit.Record
		if json.Unmarshal(data, &rec) == nil {
			got <- rec
		}
	}()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		wantStatus(t, e.do(t, http.MethodPost, "/api/invoke", invokeRequest{Name: "calc", Input: json.RawMessage(`"2+3"`)}), http.StatusOK)
		select {
		case rec := <-got:
			if rec.CapabilityName != "calc" || rec.Output != "5" || rec.ID == 0 {
				t.Errorf("record = %+v", rec)
			}
			return
		case <-ticker.C:
		case <-ctx.Done():
			t.Fatal("no record received on the feed")
		}
	}
}

func TestAuditFeed_RequiresAuth(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)

	wsURL := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws/audit"
	_, resp, err := websocket.Dial(t.Context(), wsURL, nil)
	if err == nil {
		t.Fatal("Dial without credentials should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("response = %v, want 401", resp)
	}
}
