package execution

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// ErrTerminal is returned when updating a record that already reached a final status
var ErrTerminal = errors.New("execution record is terminal")

// ErrNotFound is returned for an unknown intent ID
var ErrNotFound = errors.New("execution record not found")

// Journal persists execution records as JSON. An empty path keeps records in
// memory only.
type Journal struct {
	filePath string
	mu       sync.RWMutex
	records  map[string]*Record
}

// journalFile represents the JSON structure for storage
type journalFile struct {
	Records map[string]*Record `json:"records"`
}

// NewJournal opens the journal at filePath, loading existing records
func NewJournal(filePath string) (*Journal, error) {
	j := &Journal{
		filePath: filePath,
		records:  make(map[string]*Record),
	}
	if filePath == "" {
		return j, nil
	}

	if err := j.load(); err != nil {
		// a missing file is created on first save
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load execution history: %w", err)
		}
	}
	return j, nil
}

func (j *Journal) load() error {
	data, err := os.ReadFile(j.filePath)
	if err != nil {
		return err
	}

	var file journalFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to unmarshal records: %w", err)
	}
	if file.Records != nil {
		j.records = file.Records
	}
	return nil
}

// saveLocked writes all records. Callers hold mu.
func (j *Journal) saveLocked() error {
	if j.filePath == "" {
		return nil
	}

	data, err := json.MarshalIndent(journalFile{Records: j.records}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal records: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(j.filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Write to temporary file first, then rename for atomic write
	tempFile := j.filePath + ".tmp"
	if err := os.WriteFile(tempFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write records: %w", err)
	}
	if err := os.Rename(tempFile, j.filePath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Create adds a new record
func (j *Journal) Create(rec *Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if _, exists := j.records[rec.IntentID]; exists {
		return fmt.Errorf("record %s already exists", rec.IntentID)
	}
	cp := *rec
	j.records[rec.IntentID] = &cp
	return j.saveLocked()
}

// Update replaces a non-terminal record
func (j *Journal) Update(rec *Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	existing, exists := j.records[rec.IntentID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, rec.IntentID)
	}
	if existing.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrTerminal, rec.IntentID, existing.Status)
	}
	cp := *rec
	j.records[rec.IntentID] = &cp
	return j.saveLocked()
}

// Get returns a copy of one record
func (j *Journal) Get(intentID string) (*Record, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	rec, exists := j.records[intentID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, intentID)
	}
	cp := *rec
	return &cp, nil
}

// FindByHash returns the record for a transaction hash or signature
func (j *Journal) FindByHash(hash string) (*Record, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	for _, rec := range j.records {
		if rec.Hash != "" && rec.Hash == hash {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: no record with hash %s", ErrNotFound, hash)
}

// List returns all records, newest first
func (j *Journal) List() []*Record {
	return j.filter(func(*Record) bool { return true })
}

// ListByStatus returns records with the given status, newest first
func (j *Journal) ListByStatus(status Status) []*Record {
	return j.filter(func(r *Record) bool { return r.Status == status })
}

func (j *Journal) filter(keep func(*Record) bool) []*Record {
	j.mu.RLock()
	defer j.mu.RUnlock()

	out := make([]*Record, 0, len(j.records))
	for _, rec := range j.records {
		if keep(rec) {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(a, b int) bool {
		return out[a].CreatedAt.After(out[b].CreatedAt)
	})
	return out
}

// Path returns the storage file path
func (j *Journal) Path() string {
	return j.filePath
}
