package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// newArchiveRoot lays out two archived reports, a merge output and a stray
// text file.
func newArchiveRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := map[string][]byte{
		"A股年报/002202/2023年年度报告.pdf": fakePDF(2048),
		"A股年报/002202/2022年年度报告.pdf": fakePDF(2048),
		mergedSubDir + "/old_merge.pdf":  fakePDF(2048),
		"notes.txt":                       []byte("not a report"),
	}
	for rel, b := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, b, 0o644))
	}
	return root
}

func TestArchiveServer(t *testing.T) {
	root := newArchiveRoot(t)
	reg := prometheus.NewRegistry()
	m := newCrawlMetrics(reg)
	m.download("downloaded", 2048)

	srv := httptest.NewServer(newArchiveMux(root, zaptest.NewLogger(t), reg))
	defer srv.Close()

	get := func(t *testing.T, path string) (*http.Response, string) {
		t.Helper()
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp, string(b)
	}
	merge := func(t *testing.T, body string) (int, map[string]string) {
		t.Helper()
		resp, err := http.Post(srv.URL+"/merge", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		defer resp.Body.Close()
		var out map[string]string
		_ = json.NewDecoder(resp.Body).Decode(&out)
		return resp.StatusCode, out
	}

	t.Run("index lists archived reports", func(t *testing.T) {
		resp, body := get(t, "/")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, body, "A股年报/002202/2022年年度报告.pdf")
		assert.Contains(t, body, "A股年报 / 002202")
		assert.Less(t, strings.Index(body, "2022年年度报告"), strings.Index(body, "2023年年度报告"))
		assert.NotContains(t, body, "old_merge.pdf")
		assert.NotContains(t, body, "notes.txt")

		resp, _ = get(t, "/nothing-here")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("file preview", func(t *testing.T) {
		resp, body := get(t, "/file?rel="+url.QueryEscape("A股年报/002202/2023年年度报告.pdf"))
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
		assert.Len(t, body, 2048)

		resp, _ = get(t, "/file")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		resp, _ = get(t, "/file?rel="+url.QueryEscape("../../etc/passwd"))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		resp, _ = get(t, "/file?rel="+url.QueryEscape("A股年报/none.pdf"))
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("merge validation", func(t *testing.T) {
		resp, _ := get(t, "/merge")
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

		code, out := merge(t, `{not json`)
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Equal(t, "bad request", out["error"])

		code, _ = merge(t, `{"files":["A股年报/002202/2023年年度报告.pdf"],"out":"x"}`)
		assert.Equal(t, http.StatusBadRequest, code)

		code, out = merge(t, `{"files":["A股年报/002202/2023年年度报告.pdf","../outside.pdf"],"out":"x"}`)
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Equal(t, "invalid path", out["error"])

		code, _ = merge(t, `{"files":["A股年报/002202/2023年年度报告.pdf","A股年报/002202/2019.pdf"],"out":"x"}`)
		assert.Equal(t, http.StatusNotFound, code)
	})

	t.Run("merge of unreadable documents fails", func(t *testing.T) {
		code, out := merge(t, `{"files":["A股年报/002202/2023年年度报告.pdf","A股年报/002202/2022年年度报告.pdf"],"out":"both"}`)
		assert.Equal(t, http.StatusInternalServerError, code)
		assert.Contains(t, out["error"], "merge failed")
	})

	t.Run("merged files are downloadable", func(t *testing.T) {
		resp, body := get(t, "/download/old_merge.pdf")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Len(t, body, 2048)
	})

	t.Run("metrics", func(t *testing.T) {
		resp, body := get(t, "/metrics")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, body, `report_crawler_downloads_total{result="downloaded"} 1`)
	})
}

func TestArchiveServerResolve(t *testing.T) {
	s := &archiveServer{root: t.TempDir()}
	for _, rel := range []string{"../x.pdf", "a/../../x.pdf", "", "."} {
		_, ok := s.resolve(rel)
		assert.False(t, ok, rel)
	}
	ap, ok := s.resolve("A股年报/002202/a.pdf")
	require.True(t, ok)
	assert.True(t, strings.HasSuffix(ap, filepath.Join("002202", "a.pdf")))
}
