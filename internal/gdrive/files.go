package gdrive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/text/unicode/norm"
)

// listPageSize is the pageSize value for list requests.
// 1000 is the maximum allowed by the Drive v3 files.list endpoint.
const listPageSize = 1000

// listFields restricts the response to the fields the enumerator consumes.
// Asking for less keeps list pages small and quota usage low.
const listFields = "nextPageToken,files(id,name,mimeType,modifiedTime,size,parents)"

// Timestamp validation bounds — timestamps outside this range are replaced
// with the current time and a warning is logged.
const (
	minValidYear = 1970
	maxValidYear = 2100
)

// fileResource mirrors the Drive v3 file JSON exactly.
// Unexported — callers use Entry via toEntry() normalization.
type fileResource struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	MimeType     string   `json:"mimeType"`
	ModifiedTime string   `json:"modifiedTime"`
	Size         string   `json:"size"` // int64 transported as a decimal string
	Parents      []string `json:"parents"`
}

type listFilesResponse struct {
	NextPageToken string         `json:"nextPageToken"`
	Files         []fileResource `json:"files"`
}

// toEntry normalizes a Drive file resource into our Entry type.
// Schema gaps (missing size, malformed timestamps) are logged and degraded
// to safe defaults — a bad fragment never fails the page.
func (f *fileResource) toEntry(logger *slog.Logger) Entry {
	entry := Entry{
		ID: f.ID,
		// Drive stores names as the client sent them; normalize to NFC so
		// name comparisons downstream are byte-stable across platforms.
		Name:      norm.NFC.String(f.Name),
		Kind:      KindFile,
		MimeType:  f.MimeType,
		ParentIDs: f.Parents,
	}

	if f.MimeType == folderMimeType {
		entry.Kind = KindFolder
	}

	if f.Size != "" {
		size, err := strconv.ParseInt(f.Size, 10, 64)
		if err != nil {
			logger.Warn("unparseable size, treating as absent",
				slog.String("file_id", f.ID),
				slog.String("raw", f.Size),
			)
		} else {
			entry.Size = &size
		}
	}

	entry.ModifiedAt = parseTimestamp(f.ModifiedTime, "modifiedTime", f.ID, logger)

	return entry
}

// parseTimestamp parses an RFC3339 timestamp and validates the year range.
// Invalid or out-of-range timestamps are replaced with time.Now().UTC() and logged.
func parseTimestamp(raw, field, fileID string, logger *slog.Logger) time.Time {
	if raw == "" {
		logger.Warn("empty timestamp, using current time",
			slog.String("field", field),
			slog.String("file_id", fileID),
		)

		return time.Now().UTC()
	}

	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		logger.Warn("invalid timestamp, using current time",
			slog.String("field", field),
			slog.String("file_id", fileID),
			slog.String("raw", raw),
			slog.String("error", err.Error()),
		)

		return time.Now().UTC()
	}

	if t.Year() < minValidYear || t.Year() > maxValidYear {
		logger.Warn("timestamp out of valid range, using current time",
			slog.String("field", field),
			slog.String("file_id", fileID),
			slog.String("raw", raw),
		)

		return time.Now().UTC()
	}

	return t
}

// ListChildren fetches one page of the direct children of a folder.
// Pass an empty pageToken for the first page; pass the previous page's
// NextPageToken to continue. Trashed items are excluded server-side.
func (c *Client) ListChildren(ctx context.Context, folderID, pageToken string) (*Page, error) {
	q := url.Values{}
	q.Set("q", fmt.Sprintf("'%s' in parents and trashed = false", folderID))
	q.Set("fields", listFields)
	q.Set("pageSize", strconv.Itoa(listPageSize))

	if pageToken != "" {
		q.Set("pageToken", pageToken)
	}

	resp, err := c.Do(ctx, http.MethodGet, "/files?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var lfr listFilesResponse
	if err := json.NewDecoder(resp.Body).Decode(&lfr); err != nil {
		return nil, fmt.Errorf("gdrive: decoding list response: %w", err)
	}

	page := &Page{
		Entries:       make([]Entry, 0, len(lfr.Files)),
		NextPageToken: lfr.NextPageToken,
	}

	for i := range lfr.Files {
		page.Entries = append(page.Entries, lfr.Files[i].toEntry(c.logger))
	}

	c.logger.Debug("fetched children page",
		slog.String("folder_id", folderID),
		slog.Int("count", len(page.Entries)),
		slog.Bool("more", page.NextPageToken != ""),
	)

	return page, nil
}

// About issues the minimal authenticated probe used for token validation.
// A non-2xx status surfaces as a classified DriveError (ErrUnauthorized for
// a dead token).
func (c *Client) About(ctx context.Context) error {
	resp, err := c.Do(ctx, http.MethodGet, "/about?fields=user", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return nil
}
