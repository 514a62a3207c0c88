package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/hazyhaar/domdiff/httpapi"
	"github.com/hazyhaar/domdiff/render"
	"github.com/hazyhaar/domdiff/signer"
)

type discardUploads struct{}

func (discardUploads) Save(_ context.Context, _, _, filename string, r io.Reader) (string, error) {
	if _, err := io.Copy(io.Discard, r); err != nil {
		return "", err
	}
	return "stored-" + filename, nil
}

func uploadServer(t *testing.T) *httptest.Server {
	t.Helper()
	s, err := signer.New([]byte(strings.Repeat("u", 32)))
	if err != nil {
		t.Fatal(err)
	}
	h := httpapi.New(render.New(s), render.NewRegistry(), httpapi.WithUploads(discardUploads{}), httpapi.WithLogger(quiet())).Handler()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return ts
}

func TestUploadProgress(t *testing.T) {
	ts := uploadServer(t)
	c := New(ts.URL, WithLogger(quiet()))

	var (
		mu   sync.Mutex
		seen []float64
	)
	res, err := c.Upload(context.Background(), "cmp_1", "avatar", "me.png", strings.NewReader(strings.Repeat("x", 100000)), func(p float64) {
		mu.Lock()
		seen = append(seen, p)
		mu.Unlock()
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Identifier != "cmp_1:stored-me.png" {
		t.Errorf("identifier: %q", res.Identifier)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) == 0 || seen[len(seen)-1] != 100 {
		t.Fatalf("progress: %v", seen)
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] < seen[i-1] || seen[i] < 0 || seen[i] > 100 {
			t.Fatalf("progress not monotonic in 0..100: %v", seen)
		}
	}
}

func TestUploadFailures(t *testing.T) {
	ts := uploadServer(t)

	garbage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		w.Write([]byte("<html>not json</html>"))
	}))
	defer garbage.Close()

	plain := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer plain.Close()

	closed := httptest.NewServer(http.NotFoundHandler())
	closed.Close()

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	cases := []struct {
		name     string
		url      string
		ctx      context.Context
		property string
		want     string
	}{
		{"server refusal", ts.URL, context.Background(), "", "componentId and property are required"},
		{"error without body", plain.URL, context.Background(), "p", "Upload failed"},
		{"invalid response", garbage.URL, context.Background(), "p", "Invalid response"},
		{"network error", closed.URL, context.Background(), "p", "Network error"},
		{"aborted", ts.URL, cancelled, "p", "Upload aborted"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := New(tc.url, WithLogger(quiet()))
			_, err := c.Upload(tc.ctx, "cmp_1", tc.property, "a.txt", strings.NewReader("data"), nil)
			if !errors.Is(err, ErrUpload) {
				t.Fatalf("err = %v, not an upload error", err)
			}
			if err.Error() != tc.want {
				t.Errorf("message: got %q, want %q", err.Error(), tc.want)
			}
		})
	}
}
