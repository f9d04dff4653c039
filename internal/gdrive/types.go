package gdrive

import "time"

// Kind distinguishes files from folders in an enumeration.
type Kind string

// Entry kinds.
const (
	KindFile   Kind = "file"
	KindFolder Kind = "folder"
)

// folderMimeType is the MIME type Drive assigns to folders.
const folderMimeType = "application/vnd.google-apps.folder"

// Entry is a normalized remote file or folder produced by a list call.
// Entries are transient per enumeration run and never persisted directly.
type Entry struct {
	ID         string
	Name       string
	Kind       Kind
	MimeType   string
	ModifiedAt time.Time
	Size       *int64 // nil when Drive omits size (folders, native docs)
	ParentIDs  []string
}

// IsFolder reports whether the entry is a folder.
func (e Entry) IsFolder() bool {
	return e.Kind == KindFolder
}

// Page is one page of list results plus the opaque continuation token.
// An empty NextPageToken means the listing is exhausted.
type Page struct {
	Entries       []Entry
	NextPageToken string
}
