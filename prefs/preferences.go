package prefs

import (
	"encoding/json"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

const maxRecentAppsPerHost = 50

// HostPreferences is one host's pinned and recently-used apps (spec §6
// "App preferences").
type HostPreferences struct {
	PinnedApps map[string]struct{}  `json:"pinnedApps"`
	RecentApps map[string]time.Time `json:"recentApps"`
}

// Document is the full on-disk preferences file.
type Document struct {
	HostPreferences map[string]HostPreferences `json:"hostPreferences"`
}

func newDocument() Document {
	return Document{HostPreferences: make(map[string]HostPreferences)}
}

func newHostPreferences() HostPreferences {
	return HostPreferences{
		PinnedApps: make(map[string]struct{}),
		RecentApps: make(map[string]time.Time),
	}
}

// PreferencesStore is a mutex-guarded, atomically-persisted Document.
type PreferencesStore struct {
	mu   sync.Mutex
	path string
	doc  Document
}

// NewPreferencesStore loads path if it exists, or starts with an empty
// document.
func NewPreferencesStore(path string) (*PreferencesStore, error) {
	s := &PreferencesStore{path: path, doc: newDocument()}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.HostPreferences == nil {
		doc.HostPreferences = make(map[string]HostPreferences)
	}
	s.doc = doc
	return s, nil
}

// PinApp marks bundleID (lower-cased) pinned for hostUUID.
func (s *PreferencesStore) PinApp(hostUUID, bundleID string) error {
	bundleID = strings.ToLower(bundleID)
	s.mu.Lock()
	hp := s.getOrCreateLocked(hostUUID)
	hp.PinnedApps[bundleID] = struct{}{}
	s.doc.HostPreferences[hostUUID] = hp
	doc := s.doc
	s.mu.Unlock()
	return s.persist(doc)
}

// UnpinApp removes bundleID from hostUUID's pinned set.
func (s *PreferencesStore) UnpinApp(hostUUID, bundleID string) error {
	bundleID = strings.ToLower(bundleID)
	s.mu.Lock()
	hp := s.getOrCreateLocked(hostUUID)
	delete(hp.PinnedApps, bundleID)
	s.doc.HostPreferences[hostUUID] = hp
	doc := s.doc
	s.mu.Unlock()
	return s.persist(doc)
}

// RecordRecentApp timestamps bundleID as recently used for hostUUID,
// trimming the recency-capped list to maxRecentAppsPerHost entries
// (spec §6: "recent list capped at 50 entries per host by recency").
func (s *PreferencesStore) RecordRecentApp(hostUUID, bundleID string, at time.Time) error {
	bundleID = strings.ToLower(bundleID)
	s.mu.Lock()
	hp := s.getOrCreateLocked(hostUUID)
	hp.RecentApps[bundleID] = at
	trimRecentLocked(hp.RecentApps)
	s.doc.HostPreferences[hostUUID] = hp
	doc := s.doc
	s.mu.Unlock()
	return s.persist(doc)
}

func trimRecentLocked(recent map[string]time.Time) {
	if len(recent) <= maxRecentAppsPerHost {
		return
	}
	type entry struct {
		bundleID string
		at       time.Time
	}
	entries := make([]entry, 0, len(recent))
	for id, at := range recent {
		entries = append(entries, entry{id, at})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].at.After(entries[j].at) })
	for _, e := range entries[maxRecentAppsPerHost:] {
		delete(recent, e.bundleID)
	}
}

// Get returns a copy of hostUUID's preferences.
func (s *PreferencesStore) Get(hostUUID string) HostPreferences {
	s.mu.Lock()
	defer s.mu.Unlock()
	hp, ok := s.doc.HostPreferences[hostUUID]
	if !ok {
		return newHostPreferences()
	}
	cp := newHostPreferences()
	for id := range hp.PinnedApps {
		cp.PinnedApps[id] = struct{}{}
	}
	for id, at := range hp.RecentApps {
		cp.RecentApps[id] = at
	}
	return cp
}

func (s *PreferencesStore) getOrCreateLocked(hostUUID string) HostPreferences {
	hp, ok := s.doc.HostPreferences[hostUUID]
	if !ok {
		hp = newHostPreferences()
	}
	return hp
}

func (s *PreferencesStore) persist(doc Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return atomicWriteFile(s.path, data)
}
