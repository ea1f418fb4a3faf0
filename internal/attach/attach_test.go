package attach

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/matheus3301/smsdesk/internal/model"
)

type recordingOpener struct {
	opened []string
	err    error
}

func (o *recordingOpener) Open(target string) error {
	o.opened = append(o.opened, target)
	return o.err
}

func TestPlaceholderReleasedOnce(t *testing.T) {
	r := NewResolver(t.TempDir(), nil, &recordingOpener{}, nil)

	h := r.CreatePlaceholder("a.png", "image/png", []byte("x"))
	require.True(t, strings.HasPrefix(h, PlaceholderScheme))
	require.Equal(t, 1, r.Live())

	data, err := r.Placeholder(h)
	require.NoError(t, err)
	require.Equal(t, []byte("x"), data)

	require.True(t, r.Release(h))
	require.False(t, r.Release(h))
	require.Equal(t, 0, r.Live())

	_, err = r.Placeholder(h)
	require.ErrorIs(t, err, ErrReleased)
}

func TestReleaseMessageCountsOnlyLive(t *testing.T) {
	r := NewResolver(t.TempDir(), nil, &recordingOpener{}, nil)
	h1 := r.CreatePlaceholder("a", "image/png", nil)
	h2 := r.CreatePlaceholder("b", "image/png", nil)
	r.Release(h2)

	m := model.Message{Attachments: []model.Attachment{
		{Placeholder: h1}, {Placeholder: h2}, {URL: "http://x/durable"},
	}}
	require.Equal(t, 1, r.ReleaseMessage(m))
	require.Equal(t, 0, r.ReleaseMessage(m))
}

func TestDisplayURLPrefersDurable(t *testing.T) {
	require.Equal(t, "http://x/1", DisplayURL(model.Attachment{URL: "http://x/1", Placeholder: "local:1"}))
	require.Equal(t, "local:1", DisplayURL(model.Attachment{Placeholder: "local:1"}))
}

func TestClassify(t *testing.T) {
	tests := map[string]Class{
		"image/jpeg":                ClassImage,
		"IMAGE/PNG":                 ClassImage,
		"audio/ogg; codecs=opus":    ClassAudio,
		"video/mp4":                 ClassVideo,
		"application/pdf":           ClassPDF,
		"application/octet-stream":  ClassOther,
		"":                          ClassOther,
		"text/vcard; charset=utf-8": ClassOther,
	}
	for ct, want := range tests {
		require.Equal(t, want, Classify(ct), ct)
	}
	require.True(t, ClassImage.Inline())
	require.False(t, ClassPDF.Inline())
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"report.pdf":       "report.pdf",
		"../../etc/passwd": "passwd",
		`C:\Users\x\a.jpg`: "a.jpg",
		"what?.png":        "what_.png",
		"":                 "attachment",
		"...":              "attachment",
		"tab\tname.txt":    "tabname.txt",
	}
	for in, want := range tests {
		require.Equal(t, want, SanitizeFilename(in), in)
	}
}

func TestDownloadWritesSanitizedFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("pdf-bytes"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	opener := &recordingOpener{}
	r := NewResolver(dir, srv.Client(), opener, nil)

	path, err := r.Download(context.Background(), srv.URL+"/a", "../invoice.pdf")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "invoice.pdf"), path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "pdf-bytes", string(data))

	second, err := r.Download(context.Background(), srv.URL+"/a", "invoice.pdf")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "invoice (1).pdf"), second)
	require.Empty(t, opener.opened)
}

func TestDownloadFallsBackToOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	opener := &recordingOpener{}
	r := NewResolver(t.TempDir(), srv.Client(), opener, nil)

	path, err := r.Download(context.Background(), srv.URL+"/a", "a.jpg")
	require.NoError(t, err)
	require.Empty(t, path)
	require.Equal(t, []string{srv.URL + "/a"}, opener.opened)

	opener.err = errors.New("no display")
	_, err = r.Download(context.Background(), srv.URL+"/a", "a.jpg")
	require.Error(t, err)
}

func TestDownloadPlaceholder(t *testing.T) {
	dir := t.TempDir()
	r := NewResolver(dir, nil, &recordingOpener{}, nil)
	h := r.CreatePlaceholder("draft.txt", "text/plain", []byte("draft"))

	path, err := r.Download(context.Background(), h, "draft.txt")
	require.NoError(t, err)
	data, _ := os.ReadFile(path)
	require.Equal(t, "draft", string(data))

	r.Release(h)
	_, err = r.Download(context.Background(), h, "draft.txt")
	require.ErrorIs(t, err, ErrReleased)
}
