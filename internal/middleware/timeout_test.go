package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestTimeoutPassesThroughFastHandler(t *testing.T) {
	h := Timeout(time.Second)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("audio-bytes"))
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
	if got := rr.Header().Get("Content-Type"); got != "audio/mpeg" {
		t.Fatalf("expected audio/mpeg, got %q", got)
	}
	if rr.Body.String() != "audio-bytes" {
		t.Fatalf("unexpected body %q", rr.Body.String())
	}
}

func TestTimeoutReturns504AndDropsLateWrites(t *testing.T) {
	writeErr := make(chan error, 1)

	h := Timeout(20 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
		time.Sleep(10 * time.Millisecond)
		_, err := w.Write([]byte("too late"))
		writeErr <- err
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/tts", nil))

	if rr.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "gateway_timeout") {
		t.Fatalf("unexpected body %q", rr.Body.String())
	}

	select {
	case err := <-writeErr:
		if !errors.Is(err, http.ErrHandlerTimeout) {
			t.Fatalf("expected ErrHandlerTimeout, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("handler goroutine never finished")
	}

	if strings.Contains(rr.Body.String(), "too late") {
		t.Fatal("late handler write reached the client")
	}
}
