package gdrive

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListChildrenBuildsQuery(t *testing.T) {
	var gotQuery, gotFields, gotPageToken string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		gotFields = r.URL.Query().Get("fields")
		gotPageToken = r.URL.Query().Get("pageToken")

		fmt.Fprint(w, `{"files": []}`)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)

	_, err := c.ListChildren(context.Background(), "folder-123", "tok-1")
	require.NoError(t, err)

	assert.Equal(t, "'folder-123' in parents and trashed = false", gotQuery)
	assert.Equal(t, listFields, gotFields)
	assert.Equal(t, "tok-1", gotPageToken)
}

func TestListChildrenPagination(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("pageToken") == "" {
			fmt.Fprint(w, `{"nextPageToken": "page-2", "files": [{"id": "f1", "name": "one"}]}`)
			return
		}

		fmt.Fprint(w, `{"files": [{"id": "f2", "name": "two"}]}`)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)

	first, err := c.ListChildren(context.Background(), "root", "")
	require.NoError(t, err)
	require.Len(t, first.Entries, 1)
	assert.Equal(t, "page-2", first.NextPageToken)

	second, err := c.ListChildren(context.Background(), "root", first.NextPageToken)
	require.NoError(t, err)
	require.Len(t, second.Entries, 1)
	assert.Empty(t, second.NextPageToken)
	assert.Equal(t, "f2", second.Entries[0].ID)
}

func TestToEntryClassifiesKind(t *testing.T) {
	folder := fileResource{ID: "d1", Name: "docs", MimeType: folderMimeType, ModifiedTime: "2026-01-02T03:04:05Z"}
	file := fileResource{ID: "f1", Name: "a.txt", MimeType: "text/plain", ModifiedTime: "2026-01-02T03:04:05Z"}

	assert.Equal(t, KindFolder, folder.toEntry(slog.Default()).Kind)
	assert.True(t, folder.toEntry(slog.Default()).IsFolder())
	assert.Equal(t, KindFile, file.toEntry(slog.Default()).Kind)
}

func TestToEntrySizeHandling(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantNil  bool
		wantSize int64
	}{
		{"present", "12345", false, 12345},
		{"absent", "", true, 0},
		{"unparseable", "not-a-number", true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := fileResource{ID: "f1", Name: "x", Size: tt.raw, ModifiedTime: "2026-01-02T03:04:05Z"}
			entry := f.toEntry(slog.Default())

			if tt.wantNil {
				assert.Nil(t, entry.Size)
			} else {
				require.NotNil(t, entry.Size)
				assert.Equal(t, tt.wantSize, *entry.Size)
			}
		})
	}
}

func TestToEntryNormalizesNameToNFC(t *testing.T) {
	// "é" as 'e' + combining acute (NFD) must normalize to the single NFC rune.
	f := fileResource{ID: "f1", Name: "café", ModifiedTime: "2026-01-02T03:04:05Z"}
	entry := f.toEntry(slog.Default())

	assert.Equal(t, "café", entry.Name)
}

func TestParseTimestampFallsBackToNow(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"garbage", "yesterday-ish"},
		{"out of range", "1812-06-24T00:00:00Z"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseTimestamp(tt.raw, "modifiedTime", "f1", slog.Default())
			assert.False(t, got.IsZero())
			assert.GreaterOrEqual(t, got.Year(), minValidYear)
		})
	}
}

func TestAboutProbesProvider(t *testing.T) {
	var gotPath string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		fmt.Fprint(w, `{"user": {}}`)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)

	require.NoError(t, c.About(context.Background()))
	assert.Equal(t, "/about", gotPath)
}

func TestAboutSurfacesAuthFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)

	err := c.About(context.Background())
	require.Error(t, err)
	assert.True(t, IsAuth(err))
}
