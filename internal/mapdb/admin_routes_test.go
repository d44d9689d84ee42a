package mapdb

import (
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestAttachAdminRoutes_RegistersTailsql(t *testing.T) {
	db := newTestDB(t)

	mux := http.NewServeMux()
	db.AttachAdminRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/debug/tailsql/", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	// Should be registered (might return 403 outside a debug-approved
	// network, but shouldn't be 404).
	if w.Code == http.StatusNotFound {
		t.Error("Expected /debug/tailsql/ route to be registered")
	}
}

func TestAttachAdminRoutes_BackupDownload(t *testing.T) {
	db := newTestDB(t)

	// Put a row in so the backup contains data.
	if err := db.StartSession(uuid.New(), "test", "backup check"); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	mux := http.NewServeMux()
	db.AttachAdminRoutes(mux)

	// Loopback origin passes the tsweb debug-access check.
	req := httptest.NewRequest(http.MethodGet, "/debug/backup", nil)
	req.RemoteAddr = "127.0.0.1:4242"
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 from backup route, got %d: %s", w.Code, w.Body.String())
	}
	if enc := w.Header().Get("Content-Encoding"); enc != "gzip" {
		t.Errorf("Expected gzip Content-Encoding, got %q", enc)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "gridmap-backup-") {
		t.Errorf("Unexpected Content-Disposition %q", cd)
	}

	gz, err := gzip.NewReader(w.Body)
	if err != nil {
		t.Fatalf("Backup body is not gzip: %v", err)
	}
	defer gz.Close()

	header := make([]byte, 16)
	if _, err := io.ReadFull(gz, header); err != nil {
		t.Fatalf("Failed to read backup content: %v", err)
	}
	if !strings.HasPrefix(string(header), "SQLite format 3") {
		t.Errorf("Backup does not look like a sqlite database: %q", header)
	}
}
