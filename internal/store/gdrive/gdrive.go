// Package gdrive serves documents from a Google Drive folder tree.
package gdrive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/spigell/resume-ranker/internal/document"
	"github.com/spigell/resume-ranker/internal/store"
)

const (
	folderMimeType   = "application/vnd.google-apps.folder"
	shortcutMimeType = "application/vnd.google-apps.shortcut"
	listFields       = "nextPageToken, files(id, name, mimeType, size, modifiedTime, fileExtension, shortcutDetails)"
	pageSize         = 1000
)

// Store lists folders and downloads files through the Drive v3 API.
type Store struct {
	files *drive.FilesService
}

// New creates a Drive backed store. Without options Application Default
// Credentials are used.
func New(ctx context.Context, opts ...option.ClientOption) (*Store, error) {
	opts = append([]option.ClientOption{option.WithScopes(drive.DriveReadonlyScope)}, opts...)
	srv, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	return &Store{files: srv.Files}, nil
}

func (s *Store) List(ctx context.Context, containerID string) ([]store.Entry, error) {
	q := fmt.Sprintf("'%s' in parents and trashed=false", strings.ReplaceAll(containerID, "'", `\'`))
	call := s.files.List().
		Q(q).
		Fields(listFields).
		OrderBy("folder,name").
		PageSize(pageSize).
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true)

	var entries []store.Entry
	err := call.Pages(ctx, func(page *drive.FileList) error {
		for _, f := range page.Files {
			if entry, ok := toEntry(f); ok {
				entries = append(entries, entry)
			}
		}
		return nil
	})
	if err != nil {
		return nil, classify("list", containerID, err)
	}
	return entries, nil
}

func (s *Store) Fetch(ctx context.Context, id string) ([]byte, error) {
	resp, err := s.files.Get(id).SupportsAllDrives(true).Context(ctx).Download()
	if err != nil {
		return nil, classify("fetch", id, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, store.Transient("fetch", id, err)
	}
	return data, nil
}

// toEntry maps a Drive file. Shortcuts are replaced by their target so that a
// shortcut to an ancestor folder is recognised as an already visited container.
func toEntry(f *drive.File) (store.Entry, bool) {
	if f == nil {
		return store.Entry{}, false
	}

	id, mime := f.Id, f.MimeType
	if mime == shortcutMimeType {
		if f.ShortcutDetails == nil || f.ShortcutDetails.TargetId == "" {
			return store.Entry{}, false
		}
		id, mime = f.ShortcutDetails.TargetId, f.ShortcutDetails.TargetMimeType
	}

	entry := store.Entry{
		ID:          id,
		Name:        f.Name,
		IsContainer: mime == folderMimeType,
		Size:        f.Size,
	}
	if t, err := time.Parse(time.RFC3339, f.ModifiedTime); err == nil {
		entry.ModifiedAt = t
	}
	if !entry.IsContainer {
		entry.Extension = f.FileExtension
		if entry.Extension == "" {
			entry.Extension = string(document.FormatOf(f.Name))
		}
	}
	return entry, true
}

// FolderID extracts the folder id from a Drive folder URL. Bare ids are
// returned unchanged.
func FolderID(folder string) string {
	folder = strings.TrimSpace(folder)
	if _, after, ok := strings.Cut(folder, "/folders/"); ok {
		folder = after
	}
	if i := strings.IndexAny(folder, "?/#"); i >= 0 {
		folder = folder[:i]
	}
	return folder
}

func classify(op, id string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		// Drive reports rate limiting as 403 with a rateLimitExceeded reason.
		if gerr.Code == http.StatusForbidden && rateLimited(gerr) {
			return store.Transient(op, id, err)
		}
		return store.FromStatus(op, id, gerr.Code, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return store.Permanent(op, id, err)
	}
	return store.Transient(op, id, err)
}

func rateLimited(gerr *googleapi.Error) bool {
	for _, item := range gerr.Errors {
		if item.Reason == "rateLimitExceeded" || item.Reason == "userRateLimitExceeded" {
			return true
		}
	}
	return false
}
