package httpx

import (
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestConfigureExternalHTTPClient(t *testing.T) {
	original := externalHTTPClient.Timeout
	t.Cleanup(func() {
		externalHTTPClient.Timeout = original
	})

	tests := []struct {
		name    string
		seconds int
		want    time.Duration
	}{
		{"unset falls back to default", 0, 90 * time.Second},
		{"negative falls back to default", -5, 90 * time.Second},
		{"configured slack and embedding timeout", 45, 45 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ConfigureExternalHTTPClient(tt.seconds); got != tt.want {
				t.Fatalf("ConfigureExternalHTTPClient(%d) = %s, want %s", tt.seconds, got, tt.want)
			}
			if got := ExternalHTTPClient().Timeout; got != tt.want {
				t.Fatalf("shared client timeout = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestNewClientForOllama(t *testing.T) {
	tests := []struct {
		name    string
		timeout time.Duration
		want    time.Duration
	}{
		{"generate", 180 * time.Second, 180 * time.Second},
		{"model pull", 30 * time.Minute, 30 * time.Minute},
		{"unset", 0, defaultExternalHTTPTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewClient(tt.timeout)
			if client.Timeout != tt.want {
				t.Fatalf("NewClient(%s).Timeout = %s, want %s", tt.timeout, client.Timeout, tt.want)
			}
			if client == ExternalHTTPClient() {
				t.Fatal("NewClient must not return the shared client")
			}
		})
	}
}

func TestNewClientTimesOutSlowBackend(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	start := time.Now()
	_, err := NewClient(50 * time.Millisecond).Get(server.URL + "/api/tags")
	if err == nil {
		t.Fatal("expected timeout error")
	}
	var netErr net.Error
	if !errors.As(err, &netErr) || !netErr.Timeout() {
		t.Fatalf("expected a timeout error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("request took %s despite a 50ms timeout", elapsed)
	}
}
