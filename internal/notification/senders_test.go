package notification

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWebhookSender(t *testing.T) {
	ctx := context.Background()

	t.Run("signs and posts payload", func(t *testing.T) {
		var gotSignature, gotEvent string
		var gotBody []byte
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotSignature = r.Header.Get("X-OmniBridge-Signature")
			gotEvent = r.Header.Get("X-OmniBridge-Event")
			gotBody, _ = io.ReadAll(r.Body)
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		n := pendingNotification("w1", SeverityMedium, ChannelWebhook)
		n.Metadata = map[string]any{metaWebhookURL: srv.URL}

		res, err := NewWebhookSender("topsecret", testLogger()).Send(ctx, n, "tenant_1")
		if err != nil {
			t.Fatalf("Send: %v", err)
		}
		if !res.Success {
			t.Fatalf("result = %+v", res)
		}

		mac := hmac.New(sha256.New, []byte("topsecret"))
		mac.Write(gotBody)
		if want := "sha256=" + hex.EncodeToString(mac.Sum(nil)); gotSignature != want {
			t.Errorf("signature = %s, want %s", gotSignature, want)
		}
		if gotEvent != n.Type {
			t.Errorf("event header = %s, want %s", gotEvent, n.Type)
		}
		if !strings.Contains(string(gotBody), `"tenant_id":"tenant_1"`) {
			t.Errorf("payload missing tenant scope: %s", gotBody)
		}
	})

	t.Run("5xx is retryable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		n := pendingNotification("w2", SeverityMedium, ChannelWebhook)
		n.Metadata = map[string]any{metaWebhookURL: srv.URL}

		res, err := NewWebhookSender("s", testLogger()).Send(ctx, n, "tenant_1")
		if err != nil {
			t.Fatalf("Send: %v", err)
		}
		if res.Success || !res.Retryable {
			t.Errorf("result = %+v, want retryable failure", res)
		}
	})

	t.Run("4xx is not retryable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusGone)
		}))
		defer srv.Close()

		n := pendingNotification("w3", SeverityMedium, ChannelWebhook)
		n.Metadata = map[string]any{metaWebhookURL: srv.URL}

		res, err := NewWebhookSender("s", testLogger()).Send(ctx, n, "tenant_1")
		if err != nil {
			t.Fatalf("Send: %v", err)
		}
		if res.Success || res.Retryable {
			t.Errorf("result = %+v, want permanent failure", res)
		}
	})

	t.Run("missing url fails without retry", func(t *testing.T) {
		n := pendingNotification("w4", SeverityMedium, ChannelWebhook)
		res, err := NewWebhookSender("s", testLogger()).Send(ctx, n, "tenant_1")
		if err != nil {
			t.Fatalf("Send: %v", err)
		}
		if res.Success || res.Retryable {
			t.Errorf("result = %+v", res)
		}
	})
}

func TestSMSSenderTruncates(t *testing.T) {
	n := pendingNotification("s1", SeverityMedium, ChannelSMS)
	n.Message = strings.Repeat("x", 300)
	n.Metadata = map[string]any{metaRecipientPhone: "+15550100"}

	res, err := NewSMSSender(testLogger()).Send(context.Background(), n, "tenant_1")
	if err != nil || !res.Success {
		t.Fatalf("Send = %+v, %v", res, err)
	}
	// The stored notification keeps the full message; only the outbound
	// body is bounded, which the capability advertises.
	if len(n.Message) != 300 {
		t.Errorf("notification message mutated to %d chars", len(n.Message))
	}
	if got := NewSMSSender(testLogger()).Capabilities().MaxContentLength; got != 160 {
		t.Errorf("sms max length = %d", got)
	}
}

func TestSMSSenderNeedsPhone(t *testing.T) {
	n := pendingNotification("s2", SeverityMedium, ChannelSMS)
	res, err := NewSMSSender(testLogger()).Send(context.Background(), n, "tenant_1")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.Success {
		t.Error("send without phone must fail")
	}
}

func TestInAppSenderAlwaysSucceeds(t *testing.T) {
	n := pendingNotification("i1", SeverityMedium)
	res, err := NewInAppSender(testLogger()).Send(context.Background(), n, "tenant_1")
	if err != nil || !res.Success {
		t.Fatalf("Send = %+v, %v", res, err)
	}
	if res.DeliveryID != n.ID {
		t.Errorf("delivery id = %s, want the notification id", res.DeliveryID)
	}
}

func TestSenderRegistry(t *testing.T) {
	r := registryWith(&mockSender{channel: ChannelInApp}, &mockSender{channel: ChannelEmail})

	if _, err := r.Get(ChannelInApp); err != nil {
		t.Errorf("Get: %v", err)
	}
	if _, err := r.Get(ChannelSMS); err == nil {
		t.Error("expected error for unregistered channel")
	}
	if got := len(r.Channels()); got != 2 {
		t.Errorf("channels = %d, want 2", got)
	}
}
