package image

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/echosketch/backend/internal/config"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\nfake")

func newTestService(baseURL string) *Service {
	return NewService(config.ImageConfig{Enabled: true, BaseURL: baseURL, Width: 512, Height: 512}, WithSeed(func() int { return 42 }))
}

func TestGenerateDisabledReturnsPlaceholder(t *testing.T) {
	svc := NewService(config.ImageConfig{})

	got, err := svc.Generate(context.Background(), "a lighthouse in a storm")
	require.NoError(t, err)
	assert.Equal(t, Placeholder("a lighthouse in a storm"), got)

	mime, data, err := DecodeDataURI(got)
	require.NoError(t, err)
	assert.Equal(t, "image/svg+xml", mime)
	assert.Contains(t, string(data), "ECHOSKETCH")
	assert.Contains(t, string(data), "(Placeholder Image)")
	assert.Contains(t, string(data), "a lighthouse in a storm...")
}

func TestGenerateReturnsDataURIOnSuccess(t *testing.T) {
	var gotPath, gotAccept string
	var gotQuery url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		gotQuery = r.URL.Query()
		gotAccept = r.Header.Get("Accept")
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pngBytes)
	}))
	defer server.Close()

	got, err := newTestService(server.URL).Generate(context.Background(), "A cat! wearing a hat?")
	require.NoError(t, err)

	assert.Equal(t, "/prompt/A%20cat%20wearing%20a%20hat", gotPath)
	assert.Equal(t, "image/*", gotAccept)
	assert.Equal(t, "512", gotQuery.Get("width"))
	assert.Equal(t, "512", gotQuery.Get("height"))
	assert.Equal(t, "42", gotQuery.Get("seed"))
	assert.Equal(t, "true", gotQuery.Get("nologo"))

	mime, data, err := DecodeDataURI(got)
	require.NoError(t, err)
	assert.Equal(t, "image/png", mime)
	assert.Equal(t, pngBytes, data)
}

func TestGenerateFallsBackToDirectURLOnNon200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	svc := newTestService(server.URL)
	got, err := svc.Generate(context.Background(), "a tree")
	require.NoError(t, err)
	assert.Equal(t, svc.BuildURL("a tree", 42), got)
	assert.True(t, strings.HasPrefix(got, server.URL+"/prompt/a%20tree?"))
}

func TestGenerateFallsBackToDirectURLWhenImageTooLarge(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(append(pngBytes, make([]byte, 64)...))
	}))
	defer server.Close()

	svc := NewService(config.ImageConfig{Enabled: true, BaseURL: server.URL, MaxBytes: 32}, WithSeed(func() int { return 42 }))
	got, err := svc.Generate(context.Background(), "a tree")
	require.NoError(t, err)
	assert.Equal(t, svc.BuildURL("a tree", 42), got)

	// 恰好等于上限时仍然内联
	exact := NewService(config.ImageConfig{Enabled: true, BaseURL: server.URL, MaxBytes: int64(len(pngBytes) + 64)}, WithSeed(func() int { return 42 }))
	got, err = exact.Generate(context.Background(), "a tree")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got, "data:image/png;base64,"))
}

func TestGenerateFallsBackToDirectURLOnTransportError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	baseURL := server.URL
	server.Close()

	svc := newTestService(baseURL)
	got, err := svc.Generate(context.Background(), "a tree")
	require.NoError(t, err)
	assert.Equal(t, svc.BuildURL("a tree", 42), got)
}

func TestGeneratePropagatesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cancel()
		<-r.Context().Done()
	}))
	defer server.Close()

	_, err := newTestService(server.URL).Generate(ctx, "a tree")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSanitizePrompt(t *testing.T) {
	assert.Equal(t, "sunset, over the sea - calm", SanitizePrompt("  sunset, over the sea - calm!!  "))
	assert.Equal(t, "caf au lait", SanitizePrompt("café au lait"))
}

func TestPlaceholderKeepsFirstTenWordsEscaped(t *testing.T) {
	ref := Placeholder("one two three four five six seven eight nine ten eleven <b>")
	_, data, err := DecodeDataURI(ref)
	require.NoError(t, err)
	assert.Contains(t, string(data), "one two three four five six seven eight nine ten...")
	assert.NotContains(t, string(data), "eleven")

	_, data, err = DecodeDataURI(Placeholder("fish & <chips>"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "fish &amp; &lt;chips&gt;...")
}

func TestDecodeDataURI(t *testing.T) {
	_, _, err := DecodeDataURI("https://example.com/a.png")
	assert.ErrorIs(t, err, ErrNotDataURI)

	_, _, err = DecodeDataURI("data:image/png;base64")
	assert.Error(t, err)

	mime, data, err := DecodeDataURI("data:text/plain,hello%20world")
	require.NoError(t, err)
	assert.Equal(t, "text/plain", mime)
	assert.Equal(t, "hello world", string(data))

	assert.Equal(t, "svg", Extension("image/svg+xml"))
	assert.Equal(t, "png", Extension("application/octet-stream"))
}
