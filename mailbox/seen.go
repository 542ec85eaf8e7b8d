package mailbox

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

const seenFileName = "processed_uids.json"

// SeenStore persists the set of fully processed mail UIDs, so a mail
// whose seen flag was lost (or that the operator re-marked unread) is not
// processed twice.
type SeenStore struct {
	mu   sync.Mutex
	path string
	uids map[uint32]bool
}

// OpenSeenStore loads the store from dataDir, starting empty when the
// file does not exist yet.
func OpenSeenStore(dataDir string) (*SeenStore, error) {
	s := &SeenStore{
		path: filepath.Join(dataDir, seenFileName),
		uids: make(map[uint32]bool),
	}
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	var list []uint32
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, err
	}
	for _, uid := range list {
		s.uids[uid] = true
	}
	return s, nil
}

// Contains reports whether uid was processed in an earlier run.
func (s *SeenStore) Contains(uid uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uids[uid]
}

// Add records uid and writes the store through to disk.
func (s *SeenStore) Add(uid uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.uids[uid] {
		return nil
	}
	s.uids[uid] = true
	return s.flushLocked()
}

func (s *SeenStore) flushLocked() error {
	list := make([]uint32, 0, len(s.uids))
	for uid := range s.uids {
		list = append(list, uid)
	}
	sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
