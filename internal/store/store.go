package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/ciptacoding/nvr-core/internal/logx"
)

var log = logx.New("Store")

var nameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidName reports whether name matches the sanitised camera-name rule
// ([A-Za-z0-9_-]+) used for mount paths and file paths.
func ValidName(name string) bool {
	return name != "" && nameRe.MatchString(name)
}

// Sanitize filters name down to [A-Za-z0-9_-], matching PathUtils'
// sanitizeCameraName.
func Sanitize(name string) string {
	var b []byte
	for i := 0; i < len(name); i++ {
		c := name[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' || c == '-' {
			b = append(b, c)
		}
	}
	return string(b)
}

type fileFormat struct {
	Cameras []*CameraDefinition `json:"cameras"`
}

// Store is the JSON-file-backed Camera Registry persistence layer: a
// single mutex guards an ordered slice plus a name index, writes are
// atomic (write-then-rename), matching CameraManager's
// saveCamerasToJSON/loadCamerasFromJSON.
type Store struct {
	mu      sync.Mutex
	path    string
	order   []string
	cameras map[string]*CameraDefinition
}

// Load reads path if present; missing file yields an empty store. Entries
// that fail to parse are skipped (one bad entry does not abort the load).
func Load(path string) (*Store, error) {
	s := &Store{path: path, cameras: map[string]*CameraDefinition{}}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	// Decode into raw messages first so one malformed entry can be skipped
	// without discarding the rest of the file.
	var raw struct {
		Cameras []json.RawMessage `json:"cameras"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for _, entry := range raw.Cameras {
		var def CameraDefinition
		if err := json.Unmarshal(entry, &def); err != nil {
			log.Printf("skipping malformed camera entry: %v", err)
			continue
		}
		if def.Name == "" {
			log.Printf("skipping camera entry with empty name")
			continue
		}
		for _, r := range def.Regions {
			if r.ID >= def.nextRegionID {
				def.nextRegionID = r.ID
			}
		}
		s.order = append(s.order, def.Name)
		d := def
		s.cameras[def.Name] = &d
	}
	return s, nil
}

// save writes the store atomically (write to a temp file, then rename),
// pretty-printed. Caller must hold s.mu.
func (s *Store) save() error {
	out := fileFormat{}
	for _, name := range s.order {
		if def, ok := s.cameras[name]; ok {
			out.Cameras = append(out.Cameras, def)
		}
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cameras: %w", err)
	}
	dir := filepath.Dir(s.path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	tmp, err := os.CreateTemp(dir, ".cameras-*.json.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// Save persists the current in-memory set.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save()
}

// ErrExists is returned by Add when the name is already registered.
var ErrExists = fmt.Errorf("camera already exists")

// Add registers def, rejecting duplicate names, and persists unless
// persist is false (used while loading at startup).
func (s *Store) Add(def *CameraDefinition, persist bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cameras[def.Name]; ok {
		return ErrExists
	}
	s.cameras[def.Name] = def
	s.order = append(s.order, def.Name)
	if persist {
		if err := s.save(); err != nil {
			delete(s.cameras, def.Name)
			s.order = s.order[:len(s.order)-1]
			return err
		}
	}
	return nil
}

// Remove deletes name if present; idempotent. Persists only if something
// was actually removed.
func (s *Store) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cameras[name]; !ok {
		return nil
	}
	delete(s.cameras, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return s.save()
}

// Get returns the camera definition for name, if registered.
func (s *Store) Get(name string) (*CameraDefinition, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	def, ok := s.cameras[name]
	return def, ok
}

// List returns all camera definitions in registration order.
func (s *Store) List() []*CameraDefinition {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*CameraDefinition, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.cameras[name])
	}
	return out
}
