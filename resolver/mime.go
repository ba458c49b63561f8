package resolver

import "strings"

// extToMIME is the canonical extension→MIME table: inference must never
// rely on signature sniffing, only on content.mime (when present) or this
// table.
var extToMIME = map[string]string{
	".html": "text/html",
	".htm":  "text/html",
	".css":  "text/css",
	".js":   "application/javascript",
	".mjs":  "application/javascript",
	".ts":   "application/typescript",
	".json": "application/json",

	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".svg":  "image/svg+xml",
	".gif":  "image/gif",
	".webp": "image/webp",
	".ico":  "image/x-icon",

	".woff":  "font/woff",
	".woff2": "font/woff2",
	".ttf":   "font/ttf",

	".mp3":  "audio/mpeg",
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".ogg":  "audio/ogg",

	".wasm":     "application/wasm",
	".manifest": "text/cache-manifest",
	".pdf":      "application/pdf",
	".zip":      "application/zip",
}

// MIMEForPath returns the canonical MIME type for path's extension, or
// application/octet-stream if unknown. Directory-looking paths with no
// extension default to text/html.
func MIMEForPath(path string) string {
	ext := extOf(path)
	if ext == "" {
		return "text/html"
	}
	if mime, ok := extToMIME[ext]; ok {
		return mime
	}
	return "application/octet-stream"
}

// IsHTMLLike reports whether path's extension (or lack of one) marks it
// as an HTML navigation target eligible for SPA fallback.
func IsHTMLLike(path string) bool {
	ext := extOf(path)
	return ext == "" || ext == ".html" || ext == ".htm"
}

func extOf(path string) string {
	slash := strings.LastIndexByte(path, '/')
	name := path
	if slash >= 0 {
		name = path[slash+1:]
	}
	dot := strings.LastIndexByte(name, '.')
	if dot < 0 {
		return ""
	}
	return strings.ToLower(name[dot:])
}
