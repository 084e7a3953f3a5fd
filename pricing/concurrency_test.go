package pricing

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestConcurrencyMiddleware_TimesOutWhenNoSlot(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	secondDone := make(chan struct{})
	var startedOnce sync.Once

	// segura a vaga como uma consulta esperando o lote
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startedOnce.Do(func() { close(started) })
		<-release
		w.WriteHeader(http.StatusOK)
	})

	h := ConcurrencyMiddleware(ConcurrencyOptions{
		Max:            1,
		RejectStatus:   http.StatusServiceUnavailable,
		AcquireTimeout: 25 * time.Millisecond,
	})(next)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		w1 := httptest.NewRecorder()
		h.ServeHTTP(w1, httptest.NewRequest(http.MethodGet, "http://example/v1/lowest-prices/a", nil))
		if w1.Code != http.StatusOK {
			t.Errorf("expected first request 200, got %d", w1.Code)
		}
	}()

	select {
	case <-started:
	case <-time.After(200 * time.Millisecond):
		close(release)
		wg.Wait()
		t.Fatalf("timeout waiting first request to start")
	}

	go func() {
		defer wg.Done()
		w2 := httptest.NewRecorder()
		h.ServeHTTP(w2, httptest.NewRequest(http.MethodGet, "http://example/v1/lowest-prices/b", nil))
		if w2.Code != http.StatusServiceUnavailable {
			t.Errorf("expected second request 503, got %d", w2.Code)
		}
		if ct := w2.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected JSON rejection, got Content-Type %q", ct)
		}
		close(secondDone)
	}()

	select {
	case <-secondDone:
	case <-time.After(500 * time.Millisecond):
		close(release)
		wg.Wait()
		t.Fatalf("timeout waiting second request to finish")
	}

	close(release)
	wg.Wait()
}

func TestConcurrencyMiddleware_DisabledWhenMaxIsZero(t *testing.T) {
	calls := 0
	h := ConcurrencyMiddleware(ConcurrencyOptions{})(okHandler(&calls))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://example/", nil))
	if w.Code != http.StatusOK || calls != 1 {
		t.Fatalf("expected pass-through, got %d (calls=%d)", w.Code, calls)
	}
}
