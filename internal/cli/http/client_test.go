package httpclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClientDo(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/execute" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Content-Type") != "application/json" || r.Header.Get("X-Trace-Id") != "t1" {
			t.Errorf("unexpected headers: %v", r.Header)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"code":"x"}` {
			t.Errorf("unexpected body: %s", body)
		}
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer server.Close()

	client := New(server.URL+"/", time.Second)
	resp, err := client.Do(context.Background(), http.MethodPost, "/execute", map[string]string{"X-Trace-Id": "t1"}, []byte(`{"code":"x"}`))
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if resp.StatusCode != http.StatusAccepted || string(resp.Body) != `{"success":true}` {
		t.Fatalf("unexpected response: %d %s", resp.StatusCode, resp.Body)
	}
}

func TestClientDoFailure(t *testing.T) {
	client := New("http://127.0.0.1:1", 200*time.Millisecond)
	if _, err := client.Do(context.Background(), http.MethodGet, "/health", nil, nil); err == nil {
		t.Fatal("expected connection error")
	}
}
