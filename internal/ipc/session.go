package ipc

import (
	"context"
	"os"
	"path/filepath"

	hosterrors "github.com/multiacct/sessionhost/infrastructure/errors"
)

// sessionDataMarkers are the partition subpaths whose presence indicates a
// browser storage subsystem actually wrote session data (spec §4.5
// "verify" uses the same set to decide whether migrated data is usable).
var sessionDataMarkers = []string{"Cookies", "Local Storage", "IndexedDB"}

// SessionStats summarizes a partition directory's on-disk footprint.
type SessionStats struct {
	HasData   bool  `json:"hasData"`
	SizeBytes int64 `json:"sizeBytes"`
}

func (s *Server) partitionDirFor(id string) (string, error) {
	a, ok := s.store.Get(id)
	if !ok {
		return "", hosterrors.NotFound("account", id)
	}
	return s.materializer.PartitionDir(a.ID, a.SessionDir), nil
}

// sessionHasData reports whether any recognized storage marker exists
// under the account's partition directory.
func sessionHasData(dir string) bool {
	for _, marker := range sessionDataMarkers {
		if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
			return true
		}
	}
	return false
}

func sessionDirSize(dir string) int64 {
	var total int64
	filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() {
			return nil
		}
		total += info.Size()
		return nil
	})
	return total
}

func handleSessionHasData(ctx context.Context, s *Server, body []byte) (interface{}, error) {
	var req idRequest
	if err := decodeAndValidate(body, &req); err != nil {
		return nil, err
	}
	dir, err := s.partitionDirFor(req.ID)
	if err != nil {
		return nil, err
	}
	return map[string]bool{"hasData": sessionHasData(dir)}, nil
}

func handleSessionStats(ctx context.Context, s *Server, body []byte) (interface{}, error) {
	var req idRequest
	if err := decodeAndValidate(body, &req); err != nil {
		return nil, err
	}
	dir, err := s.partitionDirFor(req.ID)
	if err != nil {
		return nil, err
	}
	return SessionStats{HasData: sessionHasData(dir), SizeBytes: sessionDirSize(dir)}, nil
}

// handleSessionClear recursively removes the account's partition
// directory's contents. The partition directory itself is the core's
// exclusive property (spec §6 "the core treats it as an opaque directory
// it exclusively owns and may recursively delete"), so only its children
// are removed, leaving the directory in place for reuse.
func handleSessionClear(ctx context.Context, s *Server, body []byte) (interface{}, error) {
	var req idRequest
	if err := decodeAndValidate(body, &req); err != nil {
		return nil, err
	}
	dir, err := s.partitionDirFor(req.ID)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]bool{"ok": true}, nil
		}
		return nil, hosterrors.Wrap(hosterrors.CategoryStoreCorrupt, "failed to read partition directory", 500, err)
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return nil, hosterrors.Wrap(hosterrors.CategoryStoreCorrupt, "failed to clear partition directory", 500, err)
		}
	}
	if s.hub != nil {
		s.hub.Broadcast(Notification{Channel: "login-status-changed", AccountID: req.ID, Payload: map[string]bool{"loggedIn": false}})
	}
	return map[string]bool{"ok": true}, nil
}

// handleSessionDetectLogin reports whether the partition directory holds
// storage data consistent with a logged-in session. The core module has no
// way to introspect the embedded runtime's actual auth state directly —
// that lives behind the shell's preload script — so this is a storage-
// presence heuristic only, not a real session check.
func handleSessionDetectLogin(ctx context.Context, s *Server, body []byte) (interface{}, error) {
	var req idRequest
	if err := decodeAndValidate(body, &req); err != nil {
		return nil, err
	}
	dir, err := s.partitionDirFor(req.ID)
	if err != nil {
		return nil, err
	}
	return map[string]bool{"likelyLoggedIn": sessionHasData(dir)}, nil
}
