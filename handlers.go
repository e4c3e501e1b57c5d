package main

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// MergeRequest is the body of POST /merge: archive-relative paths in merge
// order and the output name.
type MergeRequest struct {
	Files []string `json:"files"`
	Out   string   `json:"out"`
}

// archiveServer is the browser UI over a download root.
type archiveServer struct {
	root     string
	logger   *zap.Logger
	gatherer prometheus.Gatherer
}

func newArchiveMux(root string, logger *zap.Logger, gatherer prometheus.Gatherer) *http.ServeMux {
	s := &archiveServer{root: root, logger: logger, gatherer: gatherer}
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/file", s.handleFile)
	mux.HandleFunc("/merge", s.handleMerge)
	mux.Handle("/download/", http.StripPrefix("/download/",
		http.FileServer(http.Dir(s.outDir())),
	))
	if gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

func (s *archiveServer) outDir() string { return filepath.Join(s.root, mergedSubDir) }

func (s *archiveServer) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	files, err := scanArchive(s.root)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Rel < files[j].Rel })
	s.logger.Debug("archive scanned", zap.Int("files", len(files)), zap.String("root", s.root))

	data := struct {
		Files        []ArchiveFile
		OutDir, Root string
	}{files, s.outDir(), s.root}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := page.Execute(w, data); err != nil {
		s.logger.Warn("render index", zap.Error(err))
	}
}

// handleFile serves an archived PDF inline for preview.
func (s *archiveServer) handleFile(w http.ResponseWriter, r *http.Request) {
	rel := r.URL.Query().Get("rel")
	if rel == "" {
		http.Error(w, "missing rel", http.StatusBadRequest)
		return
	}
	ap, ok := s.resolve(rel)
	if !ok {
		http.Error(w, "invalid path", http.StatusBadRequest)
		return
	}
	if !fileExists(ap) {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	http.ServeFile(w, r, ap)
}

func (s *archiveServer) handleMerge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	var in MergeRequest
	if err := json.NewDecoder(bufio.NewReader(r.Body)).Decode(&in); err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad request")
		return
	}
	if len(in.Files) < 2 {
		writeJSONError(w, http.StatusBadRequest, "select at least 2 files")
		return
	}

	var inputs []string
	for _, rel := range in.Files {
		ap, ok := s.resolve(rel)
		if !ok {
			writeJSONError(w, http.StatusBadRequest, "invalid path")
			return
		}
		if !fileExists(ap) {
			writeJSONError(w, http.StatusNotFound, "file not found: "+rel)
			return
		}
		inputs = append(inputs, ap)
	}

	name := strings.TrimSuffix(strings.TrimSpace(in.Out), documentSuffix)
	outName := SanitizeFilename(name, "merged_reports") + documentSuffix
	if err := os.MkdirAll(s.outDir(), 0o755); err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	outPath := filepath.Join(s.outDir(), outName)
	if err := mergePDFs(inputs, outPath); err != nil {
		s.logger.Error("merge failed", zap.Strings("files", in.Files), zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "merge failed: "+err.Error())
		return
	}
	s.logger.Info("merged", zap.Int("files", len(inputs)), zap.String("out", outPath))

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"ok":       "1",
		"download": "/download/" + url.PathEscape(outName),
	})
}

// resolve maps an archive-relative path to an absolute one, refusing
// anything that escapes the root.
func (s *archiveServer) resolve(rel string) (string, bool) {
	root, err := filepath.Abs(s.root)
	if err != nil {
		return "", false
	}
	ap, err := filepath.Abs(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		return "", false
	}
	if !strings.HasPrefix(ap, root+string(os.PathSeparator)) {
		return "", false
	}
	return ap, true
}

func writeJSONError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
