package timeline

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/natefinch/atomic"
	"github.com/sirupsen/logrus"

	"github.com/stream-polyglot/voiceline/metrics"
)

// Cache lookup results reported to metrics.
const (
	CacheHit     = "hit"
	CacheMiss    = "miss"
	CacheInvalid = "invalid"
)

// cacheFile is the on-disk layout of a cached timeline.
type cacheFile struct {
	Timeline           []Fragment `json:"timeline"`
	Metadata           Metadata   `json:"metadata"`
	FragmentsDirectory string     `json:"fragmentsDirectory"`
}

// Store persists timelines as JSON under Dir, one file per cache key.
type Store struct {
	Dir     string
	log     logrus.FieldLogger
	metrics *metrics.Recorder
}

// NewStore returns a Store rooted at dir. rec may be nil.
func NewStore(dir string, log logrus.FieldLogger, rec *metrics.Recorder) *Store {
	return &Store{Dir: dir, log: log.WithField("component", "store"), metrics: rec}
}

func (s *Store) path(key string) string {
	return filepath.Join(s.Dir, key+".timeline.json")
}

// Load returns the cached timeline and its fragments directory. A missing,
// unreadable or stale entry (any fragment file gone) yields a nil timeline
// and no error, so the caller re-segments.
func (s *Store) Load(key string) (*Timeline, string, error) {
	log := s.log.WithField("key", key)
	b, err := os.ReadFile(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		s.metrics.CacheResult(CacheMiss)
		return nil, "", nil
	}
	if err != nil {
		return nil, "", err
	}

	var cf cacheFile
	if err := json.Unmarshal(b, &cf); err != nil {
		log.WithError(err).Warn("timeline cache unreadable, ignoring")
		s.metrics.CacheResult(CacheInvalid)
		return nil, "", nil
	}
	tl := &Timeline{Fragments: cf.Timeline, Metadata: cf.Metadata}
	if tl.Fragments == nil {
		tl.Fragments = []Fragment{}
	}
	if err := tl.Validate(); err != nil {
		log.WithError(err).Warn("timeline cache inconsistent, ignoring")
		s.metrics.CacheResult(CacheInvalid)
		return nil, "", nil
	}
	for _, f := range tl.Fragments {
		p := filepath.Join(cf.FragmentsDirectory, f.SourceRef)
		if _, err := os.Stat(p); err != nil {
			log.WithFields(logrus.Fields{"fragment_id": f.ID, "file": p}).Warn("cached fragment missing, invalidating cache")
			s.metrics.CacheResult(CacheInvalid)
			return nil, "", nil
		}
	}
	s.metrics.CacheResult(CacheHit)
	log.WithField("fragments", len(tl.Fragments)).Info("loaded cached timeline")
	return tl, cf.FragmentsDirectory, nil
}

// Save writes tl under key, replacing any previous entry atomically.
func (s *Store) Save(tl *Timeline, key, fragmentsDir string) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return err
	}
	frags := tl.Fragments
	if frags == nil {
		frags = []Fragment{}
	}
	b, err := json.MarshalIndent(cacheFile{
		Timeline:           frags,
		Metadata:           tl.Metadata,
		FragmentsDirectory: fragmentsDir,
	}, "", "  ")
	if err != nil {
		return err
	}

	if err := atomic.WriteFile(s.path(key), bytes.NewReader(b)); err != nil {
		return fmt.Errorf("save timeline: %w", err)
	}
	s.log.WithField("key", key).Debug("timeline cached")
	return nil
}

// CacheKey identifies a recording and chunking choice: absolute path, size,
// modification time and chunk duration.
func CacheKey(audioPath string, chunkDuration float64) (string, error) {
	abs, err := filepath.Abs(audioPath)
	if err != nil {
		return "", err
	}
	st, err := os.Stat(abs)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(abs))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(st.Size(), 10)))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(st.ModTime().UnixNano(), 10)))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatFloat(chunkDuration, 'g', -1, 64)))
	return hex.EncodeToString(h.Sum(nil))[:16], nil
}
