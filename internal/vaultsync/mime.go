package vaultsync

import "strings"

// defaultMimeType is used for extensions not present in mimeByExtension.
const defaultMimeType = "application/octet-stream"

// mimeByExtension is a fixed table mapping file extension to MIME type, per
// the extension whitelist this engine expects vaults to carry.
var mimeByExtension = map[string]string{
	".md":   "text/markdown",
	".txt":  "text/plain",
	".pdf":  "application/pdf",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".svg":  "image/svg+xml",
}

// mimeTypeForPath derives a MIME type from a path's extension. Unknown
// extensions fall back to application/octet-stream.
func mimeTypeForPath(path string) string {
	ext := strings.ToLower(extensionOf(path))
	if mt, ok := mimeByExtension[ext]; ok {
		return mt
	}

	return defaultMimeType
}

// extensionOf returns the dot-prefixed extension of path, with its case
// kept as is, or ""
// if path has no extension (matching the teacher's dotfile handling: a
// leading-dot-only name like ".bashrc" has no extension).
func extensionOf(path string) string {
	base := path
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		base = path[i+1:]
	}

	dot := strings.LastIndexByte(base, '.')
	if dot <= 0 {
		return ""
	}

	return base[dot:]
}
