package handlers

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
)

func TestDownloadStreamsAsset(t *testing.T) {
	asset := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write([]byte("video-bytes"))
	}))
	defer asset.Close()

	app := NewApp(Options{HTTPClient: asset.Client()})
	req := httptest.NewRequest(http.MethodGet, "/download?url="+url.QueryEscape(asset.URL+"/files/clip.mp4")+"&filename=my%22clip.mp4", nil)
	rec := httptest.NewRecorder()
	app.Download(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; body %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "video-bytes" {
		t.Fatalf("body = %q", rec.Body.String())
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("allow-origin = %q", got)
	}
	if got := rec.Header().Get("Content-Disposition"); got != `attachment; filename="my_clip.mp4"` {
		t.Fatalf("content-disposition = %q", got)
	}
}

func TestDownloadRejectsBadURLs(t *testing.T) {
	app := NewApp(Options{DownloadAllowedHosts: []string{"googleusercontent.com"}})
	tests := []struct {
		target string
		want   int
	}{
		{"", http.StatusBadRequest},
		{"file:///etc/passwd", http.StatusBadRequest},
		{"/relative/path", http.StatusBadRequest},
		{"http://169.254.169.254/latest/meta-data", http.StatusForbidden},
		{"https://evilgoogleusercontent.com/x", http.StatusForbidden},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/download?url="+url.QueryEscape(tt.target), nil)
		rec := httptest.NewRecorder()
		app.Download(rec, req)
		if rec.Code != tt.want {
			t.Fatalf("%q: status = %d, want %d", tt.target, rec.Code, tt.want)
		}
	}
}

func TestHostAllowed(t *testing.T) {
	app := NewApp(Options{DownloadAllowedHosts: []string{".googleusercontent.com", "storage.googleapis.com"}})
	for host, want := range map[string]bool{
		"lh3.googleusercontent.com": true,
		"googleusercontent.com":     true,
		"storage.googleapis.com":    true,
		"evil.com":                  false,
		"googleapis.com":            false,
	} {
		if got := app.hostAllowed(host); got != want {
			t.Fatalf("hostAllowed(%q) = %v, want %v", host, got, want)
		}
	}
}

func TestDownloadUpstreamFailure(t *testing.T) {
	asset := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer asset.Close()

	app := NewApp(Options{HTTPClient: asset.Client()})
	req := httptest.NewRequest(http.MethodGet, "/download?url="+url.QueryEscape(asset.URL+"/x.png"), nil)
	rec := httptest.NewRecorder()
	app.Download(rec, req)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
}

func TestDownloadRedirectToDisallowedHost(t *testing.T) {
	var internalHits atomic.Int32
	internal := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		internalHits.Add(1)
		_, _ = w.Write([]byte("SECRET-INTERNAL"))
	}))
	defer internal.Close()
	// same listener, reached under a hostname the allowlist does not cover
	internalURL := strings.Replace(internal.URL, "127.0.0.1", "localhost", 1)

	asset := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/same-host":
			http.Redirect(w, r, "/final.png", http.StatusFound)
		case "/final.png":
			_, _ = w.Write([]byte("png-bytes"))
		case "/to-file":
			http.Redirect(w, r, "file:///etc/passwd", http.StatusFound)
		default:
			http.Redirect(w, r, internalURL+"/secret", http.StatusFound)
		}
	}))
	defer asset.Close()

	app := NewApp(Options{HTTPClient: asset.Client(), DownloadAllowedHosts: []string{"127.0.0.1"}})
	get := func(target string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/download?url="+url.QueryEscape(target), nil)
		rec := httptest.NewRecorder()
		app.Download(rec, req)
		return rec
	}

	tests := []struct {
		name   string
		target string
		want   int
		body   string
	}{
		{name: "direct disallowed host", target: internalURL + "/secret", want: http.StatusForbidden},
		{name: "redirect to disallowed host", target: asset.URL + "/bounce", want: http.StatusForbidden},
		{name: "redirect to non-http scheme", target: asset.URL + "/to-file", want: http.StatusForbidden},
		{name: "redirect within allowed host", target: asset.URL + "/same-host", want: http.StatusOK, body: "png-bytes"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := get(tc.target)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d; body %s", rec.Code, tc.want, rec.Body.String())
			}
			if strings.Contains(rec.Body.String(), "SECRET-INTERNAL") {
				t.Fatalf("internal body leaked: %s", rec.Body.String())
			}
			if tc.body != "" && rec.Body.String() != tc.body {
				t.Fatalf("body = %q, want %q", rec.Body.String(), tc.body)
			}
		})
	}
	if n := internalHits.Load(); n != 0 {
		t.Fatalf("internal server reached %d times", n)
	}
}
