package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestFindDocumentLink(t *testing.T) {
	const pageURL = "https://vip.stock.finance.sina.com.cn/corp/view/detail.php?id=1"

	t.Run("first matching link wins", func(t *testing.T) {
		doc := mustDoc(t, `<a href="/index.html">首页</a>
<a href="http://file.finance.sina.com.cn/211.154.219.97:9494/MRGG/CNSESZ_STOCK/2024/2024-4/2024-04-20/10061.PDF">下载公告</a>
<a href="/second.pdf">second</a>`)
		link, ok := FindDocumentLink(doc, pageURL, "pdf")
		require.True(t, ok)
		assert.Equal(t, "http://file.finance.sina.com.cn/211.154.219.97:9494/MRGG/CNSESZ_STOCK/2024/2024-4/2024-04-20/10061.PDF", link)
	})

	t.Run("relative links resolve against the page", func(t *testing.T) {
		doc := mustDoc(t, `<a href="files/report.pdf?download=1">pdf</a>`)
		link, ok := FindDocumentLink(doc, pageURL, ".pdf")
		require.True(t, ok)
		assert.Equal(t, "https://vip.stock.finance.sina.com.cn/corp/view/files/report.pdf?download=1", link)
	})

	t.Run("query does not count as extension", func(t *testing.T) {
		doc := mustDoc(t, `<a href="/download.php?file=a.pdf">pdf</a>`)
		_, ok := FindDocumentLink(doc, pageURL, "pdf")
		assert.False(t, ok)
	})

	t.Run("no link", func(t *testing.T) {
		_, ok := FindDocumentLink(mustDoc(t, `<a href="/a.html">a</a>`), pageURL, "pdf")
		assert.False(t, ok)
	})
}

func TestLinkResolver(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/detail":
			fmt.Fprint(w, `<html><body><a href="/docs/2023.pdf">下载</a></body></html>`)
		case "/nolink":
			fmt.Fprint(w, `<html><body><a href="/a.html">a</a></body></html>`)
		case "/moved":
			w.WriteHeader(http.StatusAccepted)
			fmt.Fprint(w, `<a href="/docs/x.pdf">x</a>`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	r := NewLinkResolver(testFetcher(t, testConfig()), "pdf", zaptest.NewLogger(t))

	link, err := r.Resolve(context.Background(), srv.URL+"/detail")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/docs/2023.pdf", link)

	_, err = r.Resolve(context.Background(), srv.URL+"/nolink")
	assert.ErrorIs(t, err, ErrNoDocumentLink)

	_, err = r.Resolve(context.Background(), srv.URL+"/missing")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoDocumentLink)

	_, err = r.Resolve(context.Background(), srv.URL+"/moved")
	assert.Error(t, err, "only 200 is accepted for detail pages")
}
