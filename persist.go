package lookupd

import (
	"encoding/json"
	"errors"
	"os"
)

// PersistenceSink reads and writes a single opaque, serialized blob. Read
// errors at bootstrap are non-fatal (warn-and-continue); write errors at
// teardown are propagated.
type PersistenceSink interface {
	Read() ([]byte, error)
	Write(blob []byte) error
}

// FilePersistenceSink persists the cache snapshot as a JSON file. No repo
// in the pack reaches for a third-party codec to serialize a generic
// cache snapshot - the closest analog, the routedns LRU cache's own
// persistence, also uses encoding/json - so this stays on the standard
// library rather than adopting one for its own sake.
type FilePersistenceSink struct {
	Path string
}

func NewFilePersistenceSink(path string) *FilePersistenceSink {
	return &FilePersistenceSink{Path: path}
}

func (s *FilePersistenceSink) Read() ([]byte, error) {
	blob, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return blob, nil
}

func (s *FilePersistenceSink) Write(blob []byte) error {
	return os.WriteFile(s.Path, blob, 0o600)
}

// persistedEntry is one row of the serialized cache snapshot.
type persistedEntry struct {
	Key   string      `json:"key"`
	Entry *CacheEntry `json:"entry"`
}

// serializeCache builds the blob written at teardown.
func serializeCache(entries []CacheKV) ([]byte, error) {
	rows := make([]persistedEntry, 0, len(entries))
	for _, kv := range entries {
		rows = append(rows, persistedEntry{Key: kv.Key, Entry: kv.Entry})
	}
	return json.Marshal(rows)
}

// deserializeCache parses a blob produced by serializeCache. Entries past
// their ExpiresAt relative to wall clock at load time are still returned;
// the controller treats them as ordinarily stale, eligible for the usual
// expired-cache policy.
func deserializeCache(blob []byte) ([]persistedEntry, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	var rows []persistedEntry
	if err := json.Unmarshal(blob, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}
