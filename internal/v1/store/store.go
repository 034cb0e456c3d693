// Package store implements the single-file JSON persistence layer for rooms
// and lectures. The parsed document is held in memory as the authoritative
// cache; reads are served from a lock-free snapshot, writes are serialized
// through a single mutex and committed with a tempfile+rename so a crash can
// never leave a torn file behind.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/lectern/classroom-server/internal/v1/faults"
	"github.com/lectern/classroom-server/internal/v1/logging"
	"github.com/lectern/classroom-server/internal/v1/metrics"
	"github.com/lectern/classroom-server/internal/v1/types"
)

// DefaultRoomID is the stable id of the room seeded into a fresh store.
const DefaultRoomID = "test-room-1"

// Document is the on-disk shape: one JSON object with both collections.
type Document struct {
	Rooms    []types.Room    `json:"rooms"`
	Lectures []types.Lecture `json:"lectures"`
}

// clone deep-copies the document so cached snapshots stay immutable.
func (d *Document) clone() *Document {
	out := &Document{
		Rooms:    make([]types.Room, len(d.Rooms)),
		Lectures: make([]types.Lecture, len(d.Lectures)),
	}
	for i, r := range d.Rooms {
		if r.CurrentLecture != nil {
			summary := *r.CurrentLecture
			r.CurrentLecture = &summary
		}
		out.Rooms[i] = r
	}
	for i, l := range d.Lectures {
		if l.StartTime != nil {
			start := *l.StartTime
			l.StartTime = &start
		}
		if l.EndTime != nil {
			end := *l.EndTime
			l.EndTime = &end
		}
		out.Lectures[i] = l
	}
	return out
}

// Options control store initialization.
type Options struct {
	// SeedDefaultRoom populates a fresh store with the default room. Production
	// deployments can disable it and create rooms through the registry.
	SeedDefaultRoom bool
}

// Store is the typed, cached, serialized persistence layer.
type Store struct {
	path  string
	mu    sync.Mutex // serializes writers and file flushes
	cache atomic.Pointer[Document]
}

// Open loads (or initializes) the store at path.
func Open(path string, opts Options) (*Store, error) {
	s := &Store{path: path}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		doc := &Document{}
		if err := json.Unmarshal(data, doc); err != nil {
			return nil, faults.Wrap(faults.CodeDatabaseRead, "failed to parse datastore file", err)
		}
		if doc.Rooms == nil {
			doc.Rooms = []types.Room{}
		}
		if doc.Lectures == nil {
			doc.Lectures = []types.Lecture{}
		}
		s.cache.Store(doc)
	case errors.Is(err, fs.ErrNotExist):
		doc := initialDocument(opts)
		s.cache.Store(doc)
		if err := s.persist(doc); err != nil {
			return nil, err
		}
		logging.Info(context.Background(), "Initialized empty datastore",
			zap.String("path", path), zap.Bool("seeded", opts.SeedDefaultRoom))
	default:
		return nil, faults.Wrap(faults.CodeDatabaseRead, "failed to read datastore file", err)
	}

	return s, nil
}

func initialDocument(opts Options) *Document {
	doc := &Document{Rooms: []types.Room{}, Lectures: []types.Lecture{}}
	if opts.SeedDefaultRoom {
		now := time.Now().UTC()
		doc.Rooms = append(doc.Rooms, types.Room{
			ID:        DefaultRoomID,
			Name:      "Default Classroom",
			Capacity:  30,
			Status:    types.RoomAvailable,
			Features:  types.DefaultRoomFeatures(),
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	return doc
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// snapshot returns the current immutable cache view. Readers never block writers.
func (s *Store) snapshot() *Document {
	return s.cache.Load()
}

// persist writes the document atomically: marshal, write a sibling tempfile,
// then rename over the target in the same directory.
func (s *Store) persist(doc *Document) error {
	start := time.Now()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return faults.Wrap(faults.CodeDatabaseWrite, "failed to encode datastore document", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return faults.Wrap(faults.CodeDatabaseWrite, "failed to create datastore directory", err)
	}

	tmp, err := os.CreateTemp(dir, ".db-*.json")
	if err != nil {
		return faults.Wrap(faults.CodeDatabaseWrite, "failed to create datastore tempfile", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return faults.Wrap(faults.CodeDatabaseWrite, "failed to write datastore tempfile", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return faults.Wrap(faults.CodeDatabaseWrite, "failed to close datastore tempfile", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return faults.Wrap(faults.CodeDatabaseWrite, "failed to replace datastore file", err)
	}

	metrics.StoreWriteDuration.Observe(time.Since(start).Seconds())
	return nil
}

// mutate runs fn against a private clone of the cache. When fn reports a
// change, the result is persisted and the cache swapped only after the rename
// committed; an unchanged document skips the file write entirely. Callers
// observe writes in commit order.
func (s *Store) mutate(fn func(doc *Document) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.snapshot().clone()
	if !fn(doc) {
		return nil
	}
	if err := s.persist(doc); err != nil {
		return err
	}
	s.cache.Store(doc)
	return nil
}

// Check reports whether the store is usable: the cache is loaded and the
// backing directory exists. Used by the readiness probe.
func (s *Store) Check() error {
	if s.snapshot() == nil {
		return faults.New(faults.CodeDatabaseRead, "datastore cache not loaded")
	}
	if _, err := os.Stat(filepath.Dir(s.path)); err != nil {
		return faults.Wrap(faults.CodeDatabaseWrite, "datastore directory unavailable", err)
	}
	return nil
}

// --- Rooms ---

// InsertRoom appends a room and persists.
func (s *Store) InsertRoom(room types.Room) error {
	return s.mutate(func(doc *Document) bool {
		doc.Rooms = append(doc.Rooms, room)
		return true
	})
}

// FindRoom returns the first room matching pred.
func (s *Store) FindRoom(pred func(types.Room) bool) (types.Room, bool) {
	for _, r := range s.snapshot().Rooms {
		if pred(r) {
			return r, true
		}
	}
	return types.Room{}, false
}

// RoomByID returns the room with the given id.
func (s *Store) RoomByID(id string) (types.Room, bool) {
	return s.FindRoom(func(r types.Room) bool { return r.ID == id })
}

// Rooms returns all rooms matching pred as a new list. A nil pred matches all.
func (s *Store) Rooms(pred func(types.Room) bool) []types.Room {
	var out []types.Room
	for _, r := range s.snapshot().Rooms {
		if pred == nil || pred(r) {
			out = append(out, r)
		}
	}
	return out
}

// UpdateRoom applies fn to the first room matching pred and persists. Returns
// the merged room, or nil when nothing matched.
func (s *Store) UpdateRoom(pred func(types.Room) bool, fn func(*types.Room)) (*types.Room, error) {
	var updated *types.Room
	err := s.mutate(func(doc *Document) bool {
		for i := range doc.Rooms {
			if pred(doc.Rooms[i]) {
				fn(&doc.Rooms[i])
				doc.Rooms[i].UpdatedAt = time.Now().UTC()
				room := doc.Rooms[i]
				updated = &room
				return true
			}
		}
		return false
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteRooms removes all rooms matching pred and returns the removed count.
func (s *Store) DeleteRooms(pred func(types.Room) bool) (int, error) {
	count := 0
	err := s.mutate(func(doc *Document) bool {
		kept := doc.Rooms[:0]
		for _, r := range doc.Rooms {
			if pred(r) {
				count++
				continue
			}
			kept = append(kept, r)
		}
		doc.Rooms = kept
		return count > 0
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// --- Lectures ---

// InsertLecture appends a lecture and persists.
func (s *Store) InsertLecture(lecture types.Lecture) error {
	return s.mutate(func(doc *Document) bool {
		doc.Lectures = append(doc.Lectures, lecture)
		return true
	})
}

// FindLecture returns the first lecture matching pred.
func (s *Store) FindLecture(pred func(types.Lecture) bool) (types.Lecture, bool) {
	for _, l := range s.snapshot().Lectures {
		if pred(l) {
			return l, true
		}
	}
	return types.Lecture{}, false
}

// LectureByID returns the lecture with the given id.
func (s *Store) LectureByID(id string) (types.Lecture, bool) {
	return s.FindLecture(func(l types.Lecture) bool { return l.ID == id })
}

// Lectures returns all lectures matching pred as a new list. A nil pred matches all.
func (s *Store) Lectures(pred func(types.Lecture) bool) []types.Lecture {
	var out []types.Lecture
	for _, l := range s.snapshot().Lectures {
		if pred == nil || pred(l) {
			out = append(out, l)
		}
	}
	return out
}

// UpdateLecture applies fn to the first lecture matching pred and persists.
// Returns the merged lecture, or nil when nothing matched.
func (s *Store) UpdateLecture(pred func(types.Lecture) bool, fn func(*types.Lecture)) (*types.Lecture, error) {
	var updated *types.Lecture
	err := s.mutate(func(doc *Document) bool {
		for i := range doc.Lectures {
			if pred(doc.Lectures[i]) {
				fn(&doc.Lectures[i])
				lecture := doc.Lectures[i]
				updated = &lecture
				return true
			}
		}
		return false
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteLectures removes all lectures matching pred and returns the removed count.
func (s *Store) DeleteLectures(pred func(types.Lecture) bool) (int, error) {
	count := 0
	err := s.mutate(func(doc *Document) bool {
		kept := doc.Lectures[:0]
		for _, l := range doc.Lectures {
			if pred(l) {
				count++
				continue
			}
			kept = append(kept, l)
		}
		doc.Lectures = kept
		return count > 0
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}
