package httpx

import (
	"fmt"
	"log"
	"mime"
	"net/http"
	"path/filepath"
)

func init() {
	ensureMimeType(".csv", "text/csv; charset=utf-8")
}

func ensureMimeType(ext, typ string) {
	if mime.TypeByExtension(ext) != "" {
		return
	}
	if err := mime.AddExtensionType(ext, typ); err != nil {
		log.Printf("httpx: failed to register MIME type for %s: %v", ext, err)
	}
}

// Attachment prepares download headers for filename, deriving the content type from its extension.
func Attachment(w http.ResponseWriter, filename string) {
	typ := mime.TypeByExtension(filepath.Ext(filename))
	if typ == "" {
		typ = "application/octet-stream"
	}
	w.Header().Set("Content-Type", typ)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
}
