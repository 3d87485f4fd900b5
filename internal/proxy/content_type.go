package proxy

import (
	"mime"
	"net/url"
	"path"
	"strings"
)

var videoContentTypes = map[string]string{
	".mkv":  "video/x-matroska",
	".mp4":  "video/mp4",
	".m4v":  "video/x-m4v",
	".ts":   "video/mp2t",
	".m2ts": "video/mp2t",
	".m3u8": "application/vnd.apple.mpegurl",
	".avi":  "video/x-msvideo",
	".webm": "video/webm",
	".mov":  "video/quicktime",
	".wmv":  "video/x-ms-wmv",
	".flv":  "video/x-flv",
	".mpg":  "video/mpeg",
	".mpeg": "video/mpeg",
	".srt":  "application/x-subrip",
	".vtt":  "text/vtt",
}

const defaultContentType = "application/octet-stream"

// contentTypeFor 根据上游 URL 的扩展名推断 Content-Type。
func contentTypeFor(rawURL string) string {
	ext := ""
	if parsed, err := url.Parse(rawURL); err == nil {
		ext = strings.ToLower(path.Ext(parsed.Path))
	}
	if ext == "" {
		return defaultContentType
	}
	if ct, ok := videoContentTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return defaultContentType
}
