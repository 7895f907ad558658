package stream

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/grafov/m3u8"
)

// PlaylistInfo summarises the last playlist served for a camera
type PlaylistInfo struct {
	Kind           string    `json:"kind"`
	Segments       int       `json:"segments"`
	Variants       int       `json:"variants"`
	TargetDuration float64   `json:"target_duration"`
	MediaSequence  uint64    `json:"media_sequence"`
	InspectedAt    time.Time `json:"inspected_at"`
}

// InspectPlaylist decodes an HLS playlist
func InspectPlaylist(data []byte) (*PlaylistInfo, error) {
	pl, listType, err := m3u8.DecodeFrom(bytes.NewReader(data), false)
	if err != nil {
		return nil, fmt.Errorf("failed to decode playlist: %w", err)
	}

	info := &PlaylistInfo{InspectedAt: time.Now()}
	switch listType {
	case m3u8.MEDIA:
		media := pl.(*m3u8.MediaPlaylist)
		info.Kind = "media"
		info.Segments = int(media.Count())
		info.TargetDuration = media.TargetDuration
		info.MediaSequence = media.SeqNo
	case m3u8.MASTER:
		master := pl.(*m3u8.MasterPlaylist)
		info.Kind = "master"
		info.Variants = len(master.Variants)
	default:
		return nil, fmt.Errorf("unknown playlist type")
	}
	return info, nil
}

// RewritePlaylist points every URI line at base, keeping only the last path
// element and its query. Tags and blank lines pass through unchanged, so
// rewriting twice gives the same result.
func RewritePlaylist(content, base string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		lines[i] = base + lastElement(trimmed)
	}
	return strings.Join(lines, "\n")
}

func lastElement(uri string) string {
	path, query := uri, ""
	if i := strings.IndexByte(uri, '?'); i >= 0 {
		path, query = uri[:i], uri[i:]
	}
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		path = path[i+1:]
	}
	return path + query
}

// TargetURL resolves path against the directory of the stream playlist URL
func TargetURL(streamURL, path string) string {
	path = strings.TrimLeft(path, "/")
	if path == "" {
		return streamURL
	}
	base := streamURL
	if i := strings.LastIndexByte(streamURL, '/'); i >= 0 {
		base = streamURL[:i]
	}
	return base + "/" + path
}

// isPlaylist reports whether a response is an HLS playlist
func isPlaylist(contentType, target string) bool {
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "mpegurl") {
		return true
	}
	if i := strings.IndexByte(target, '?'); i >= 0 {
		target = target[:i]
	}
	return strings.HasSuffix(strings.ToLower(target), ".m3u8")
}

// validPath rejects traversal and absolute references in proxied paths
func validPath(path string) bool {
	if strings.Contains(path, "://") || strings.HasPrefix(path, "//") {
		return false
	}
	for _, part := range strings.Split(path, "/") {
		if part == ".." {
			return false
		}
	}
	return true
}
