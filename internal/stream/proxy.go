package stream

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/vzahanych/videoloft-bridge/internal/config"
	"github.com/vzahanych/videoloft-bridge/internal/logger"
	"github.com/vzahanych/videoloft-bridge/internal/metrics"
	"github.com/vzahanych/videoloft-bridge/internal/videoloft"
)

const (
	maxPlaylistBytes = 1 << 20
	maxErrorBody     = 64 << 10

	msgDisabled       = "Streaming disabled"
	msgNotReady       = "Stream not ready; retry shortly"
	msgPlaceholder    = "Placeholder URL; waiting for valid stream."
	msgReinitializing = "Stream unavailable, reinitializing..."
)

// SessionResolver exposes sessions and the streaming switch to the proxy
type SessionResolver interface {
	Session(uidd string) (*Session, bool)
	StreamsEnabled() bool
	Reinitialize(uidd string) bool
}

// TokenSource provides the vendor bearer token
type TokenSource interface {
	GetToken(ctx context.Context) (string, error)
}

// Proxy forwards HLS requests to the camera's current upstream
type Proxy struct {
	cfg      config.StreamConfig
	sessions SessionResolver
	tokens   TokenSource
	http     *resty.Client
	ua       string
	metrics  *metrics.Metrics
	logger   *logger.Logger
	buffers  sync.Pool
}

// NewProxy creates a proxy with a pooled transport sized for many cameras
// and short timeouts
func NewProxy(cfg config.StreamConfig, userAgent string, sessions SessionResolver, tokens TokenSource, m *metrics.Metrics, log *logger.Logger) *Proxy {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 32 << 10
	}
	if cfg.RoutePrefix == "" {
		cfg.RoutePrefix = "/api/videoloft/stream"
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          cfg.MaxConns,
		MaxIdleConnsPerHost:   cfg.MaxConnsPerHost,
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		ForceAttemptHTTP2:     true,
	}

	client := resty.New().
		SetTransport(transport).
		SetTimeout(cfg.TotalTimeout).
		SetCookieJar(nil)

	chunk := cfg.ChunkSize
	return &Proxy{
		cfg:      cfg,
		sessions: sessions,
		tokens:   tokens,
		http:     client,
		ua:       userAgent,
		metrics:  m,
		logger:   log.Named("proxy"),
		buffers: sync.Pool{New: func() interface{} {
			b := make([]byte, chunk)
			return &b
		}},
	}
}

// Close releases idle upstream connections
func (p *Proxy) Close() {
	p.http.GetClient().CloseIdleConnections()
}

// BasePath is the local proxy path prefix for a camera
func (p *Proxy) BasePath(uidd string) string {
	return strings.TrimRight(p.cfg.RoutePrefix, "/") + "/" + uidd + "/"
}

// Serve proxies path for camera uidd. Failures become 4xx/5xx
// responses; nothing is returned to the caller.
func (p *Proxy) Serve(w http.ResponseWriter, r *http.Request, uidd, path string) {
	kind := "segment"
	if isPlaylist("", path) {
		kind = "playlist"
	}
	status := p.serve(w, r, uidd, strings.TrimLeft(path, "/"), kind)
	p.metrics.ObserveProxyRequest(kind, status)
}

func (p *Proxy) serve(w http.ResponseWriter, r *http.Request, uidd, path, kind string) int {
	if !p.sessions.StreamsEnabled() {
		return writeText(w, http.StatusServiceUnavailable, msgDisabled)
	}
	if !validPath(path) {
		return writeText(w, http.StatusBadRequest, "Invalid stream path")
	}

	sess, ok := p.sessions.Session(uidd)
	if !ok {
		return writeText(w, http.StatusNotFound, "Unknown camera")
	}

	streamURL, ok := sess.CurrentURL()
	if !ok {
		w.Header().Set("Retry-After", "5")
		return writeText(w, http.StatusServiceUnavailable, msgNotReady)
	}
	target := TargetURL(streamURL, path)
	if p.cfg.PlaceholderHost != "" && strings.Contains(target, "//"+p.cfg.PlaceholderHost+"/") {
		p.logger.Warn("Stream URL is still a placeholder", "camera", uidd)
		w.Header().Set("Retry-After", "5")
		return writeText(w, http.StatusServiceUnavailable, msgPlaceholder)
	}
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	token, err := p.tokens.GetToken(r.Context())
	if err != nil {
		p.logger.Error("Failed to get token for stream request", "camera", uidd, "error", err)
		return writeText(w, http.StatusServiceUnavailable, "Upstream authentication unavailable")
	}

	resp, err := p.http.R().
		SetContext(r.Context()).
		SetDoNotParseResponse(true).
		SetHeader("Authorization", videoloft.AuthorizationHeader(token)).
		SetHeader("User-Agent", p.ua).
		SetHeader("Accept", "*/*").
		Get(target)
	if err != nil {
		if errors.Is(r.Context().Err(), context.Canceled) {
			return 499
		}
		p.logger.Error("Upstream stream request failed", "camera", uidd, "path", path, "error", err)
		return writeText(w, http.StatusBadGateway, "Upstream request failed")
	}
	body := resp.RawBody()
	defer body.Close()

	switch resp.StatusCode() {
	case http.StatusOK:
		contentType := resp.Header().Get("Content-Type")
		if isPlaylist(contentType, target) {
			return p.servePlaylist(w, sess, body, contentType)
		}
		return p.serveSegment(w, r, uidd, body, resp.Header())

	case http.StatusNotFound:
		p.logger.Warn("Upstream returned 404, reinitializing stream", "camera", uidd, "kind", kind)
		p.sessions.Reinitialize(uidd)
		w.Header().Set("Retry-After", "2")
		return writeText(w, http.StatusServiceUnavailable, msgReinitializing)

	default:
		data, _ := io.ReadAll(io.LimitReader(body, maxErrorBody))
		p.logger.Warn("Upstream stream error", "camera", uidd, "status", resp.StatusCode())
		if ct := resp.Header().Get("Content-Type"); ct != "" {
			w.Header().Set("Content-Type", ct)
		}
		w.WriteHeader(resp.StatusCode())
		_, _ = w.Write(data)
		return resp.StatusCode()
	}
}

func (p *Proxy) servePlaylist(w http.ResponseWriter, sess *Session, body io.Reader, contentType string) int {
	data, err := io.ReadAll(io.LimitReader(body, maxPlaylistBytes))
	if err != nil {
		p.logger.Warn("Failed to read playlist", "camera", sess.CameraID(), "error", err)
		return writeText(w, http.StatusBadGateway, "Failed to read upstream playlist")
	}

	if info, err := InspectPlaylist(data); err == nil {
		sess.SetPlaylist(info)
	} else {
		p.logger.Debug("Playlist inspection failed", "camera", sess.CameraID(), "error", err)
	}

	if contentType == "" {
		contentType = "application/vnd.apple.mpegurl"
	}
	rewritten := RewritePlaylist(string(data), p.BasePath(sess.CameraID()))

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	n, _ := io.WriteString(w, rewritten)
	p.metrics.AddProxyBytes(int64(n))
	return http.StatusOK
}

// serveSegment streams the body in fixed-size chunks, flushing after each
// one. A client disconnect ends the copy and closes the upstream body.
func (p *Proxy) serveSegment(w http.ResponseWriter, r *http.Request, uidd string, body io.Reader, upstream http.Header) int {
	h := w.Header()
	contentType := upstream.Get("Content-Type")
	if contentType == "" {
		contentType = "video/MP2T"
	}
	h.Set("Content-Type", contentType)
	h.Set("Cache-Control", "public, max-age=10")
	h.Set("Accept-Ranges", "bytes")
	if cl := upstream.Get("Content-Length"); cl != "" {
		h.Set("Content-Length", cl)
	}
	w.WriteHeader(http.StatusOK)

	bufp := p.buffers.Get().(*[]byte)
	defer p.buffers.Put(bufp)
	buf := *bufp

	flusher, _ := w.(http.Flusher)
	var written int64
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				p.logger.Debug("Client went away during segment", "camera", uidd, "bytes", written)
				break
			}
			written += int64(n)
			if flusher != nil {
				flusher.Flush()
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			if r.Context().Err() == nil {
				p.logger.Warn("Segment stream interrupted", "camera", uidd, "bytes", written, "error", rerr)
			}
			break
		}
	}

	p.metrics.AddProxyBytes(written)
	return http.StatusOK
}

func writeText(w http.ResponseWriter, status int, msg string) int {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, msg)
	return status
}
