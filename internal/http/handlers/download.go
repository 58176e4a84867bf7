package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

const maxDownloadRedirects = 10

var errRedirectBlocked = errors.New("redirect target not allowed")

// downloadClient copies base and re-applies the scheme and host checks to
// every redirect hop.
func (a *App) downloadClient(base *http.Client) *http.Client {
	c := &http.Client{Timeout: 5 * time.Minute}
	if base != nil {
		copied := *base
		c = &copied
	}
	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxDownloadRedirects {
			return fmt.Errorf("stopped after %d redirects", maxDownloadRedirects)
		}
		if !a.targetAllowed(req.URL) {
			return fmt.Errorf("%w: %s", errRedirectBlocked, req.URL.Redacted())
		}
		return nil
	}
	return c
}

// Download streams a generated asset so browsers can save it under a chosen
// filename.
func (a *App) Download(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("url"))
	target, err := url.Parse(raw)
	if raw == "" || err != nil || !absoluteHTTP(target) {
		a.error(w, http.StatusBadRequest, "url must be an absolute http or https URL")
		return
	}
	if !a.hostAllowed(target.Hostname()) {
		a.error(w, http.StatusForbidden, fmt.Sprintf("host %s is not allowed", target.Hostname()))
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target.String(), nil)
	if err != nil {
		a.error(w, http.StatusBadRequest, "invalid url")
		return
	}
	resp, err := a.httpClient.Do(req)
	if errors.Is(err, errRedirectBlocked) {
		a.logger.Warn().Err(err).Str("host", target.Hostname()).Msg("download redirect blocked")
		a.error(w, http.StatusForbidden, "redirect target is not allowed")
		return
	}
	if err != nil {
		a.logger.Warn().Err(err).Str("host", target.Hostname()).Msg("download failed")
		a.error(w, http.StatusBadGateway, "failed to fetch asset")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		a.error(w, http.StatusBadGateway, fmt.Sprintf("asset host returned %d", resp.StatusCode))
		return
	}

	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		h.Set("Content-Type", ct)
	} else {
		h.Set("Content-Type", "application/octet-stream")
	}
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		h.Set("Content-Length", cl)
	}
	h.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", downloadName(r.URL.Query().Get("filename"), target)))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, resp.Body); err != nil {
		a.logger.Debug().Err(err).Msg("download stream interrupted")
	}
}

func absoluteHTTP(u *url.URL) bool {
	return u != nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func (a *App) targetAllowed(u *url.URL) bool {
	return absoluteHTTP(u) && a.hostAllowed(u.Hostname())
}

// hostAllowed applies the optional suffix allowlist. An empty list allows all.
func (a *App) hostAllowed(host string) bool {
	if len(a.allowedHosts) == 0 {
		return true
	}
	host = strings.ToLower(host)
	for _, allowed := range a.allowedHosts {
		allowed = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(allowed), "."))
		if allowed == "" {
			continue
		}
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}

func downloadName(requested string, target *url.URL) string {
	name := strings.TrimSpace(requested)
	if name == "" {
		name = path.Base(target.Path)
	}
	name = strings.Map(func(r rune) rune {
		switch {
		case r < 0x20, r == '"', r == '\\', r == '/':
			return '_'
		}
		return r
	}, name)
	if name == "" || name == "." || name == "_" {
		name = "download"
	}
	return name
}
