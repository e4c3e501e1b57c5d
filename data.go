package main

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const manifestName = "manifest.jsonl"

// ManifestRecord is one archived report.
type ManifestRecord struct {
	BatchID      string    `json:"batch_id"`
	Market       Market    `json:"market"`
	StockCode    string    `json:"stock_code"`
	Title        string    `json:"title"`
	DocumentURL  string    `json:"document_url"`
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	DownloadedAt time.Time `json:"downloaded_at"`
}

// Manifest appends records to <base>/manifest.jsonl.
type Manifest struct {
	mu      sync.Mutex
	path    string
	batchID string
}

func NewManifest(base, batchID string) *Manifest {
	return &Manifest{path: filepath.Join(base, manifestName), batchID: batchID}
}

func (m *Manifest) Path() string { return m.path }

func (m *Manifest) Append(rec ManifestRecord) error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rec.BatchID = m.batchID
	if rec.DownloadedAt.IsZero() {
		rec.DownloadedAt = time.Now().UTC()
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(m.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := json.NewEncoder(w).Encode(rec); err != nil {
		return err
	}
	return w.Flush()
}

// LoadManifest reads every record; a missing file is an empty manifest.
func LoadManifest(path string) ([]ManifestRecord, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var recs []ManifestRecord
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var r ManifestRecord
		if err := json.Unmarshal([]byte(line), &r); err != nil {
			return nil, err
		}
		recs = append(recs, r)
	}
	return recs, sc.Err()
}
