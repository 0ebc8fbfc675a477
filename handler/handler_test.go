package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandler struct{ name string }

func (f *fakeHandler) Name() string { return f.name }
func (f *fakeHandler) Process(context.Context, map[string]any, string) (*Cargo, error) {
	return &Cargo{StatusCode: "1"}, nil
}

func TestRegistry(t *testing.T) {
	Register("testsupplier", "Alpha", &fakeHandler{name: "Alpha"})
	Register("testsupplier", "Beta", &fakeHandler{name: "Beta"})

	h := Get("testsupplier", "Alpha")
	require.NotNil(t, h)
	assert.Equal(t, "Alpha", h.Name())

	assert.Nil(t, Get("testsupplier", "Gamma"))
	assert.Contains(t, List(), "testsupplier:Alpha")
}

func TestUnpackJSON(t *testing.T) {
	cargo, err := UnpackJSON([]byte(`{"response_code":1,"verbose_msg":"Scan finished","positives":0,"total":64}`))
	require.NoError(t, err)

	assert.Equal(t, "1", cargo.StatusCode)
	assert.Equal(t, "Scan finished", cargo.Notes)
	assert.Equal(t, float64(0), cargo.Data["positives"])
	assert.NotContains(t, cargo.Data, "response_code")
	assert.NotContains(t, cargo.Data, "verbose_msg")
}

func TestUnpackJSONInvalid(t *testing.T) {
	_, err := UnpackJSON([]byte("<html>not json</html>"))
	require.Error(t, err)
}

func TestTransportGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "example.com", r.URL.Query().Get("domain"))
		assert.Equal(t, "Procurer test", r.Header.Get("User-Agent"))
		w.Write([]byte(`{"response_code":1,"verbose_msg":"ok","detected_urls":[]}`))
	}))
	defer srv.Close()

	tr := NewTransport(WithUserAgent("Procurer test"))
	cargo, err := tr.Get(context.Background(), srv.URL, url.Values{"domain": {"example.com"}})
	require.NoError(t, err)

	assert.Equal(t, "1", cargo.StatusCode)
	assert.Equal(t, "ok", cargo.Notes)
	assert.Contains(t, cargo.Data, "detected_urls")
}

func TestTransportPostForm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "http://example.com", r.PostFormValue("url"))
		w.Write([]byte(`{"response_code":1,"verbose_msg":"queued"}`))
	}))
	defer srv.Close()

	tr := NewTransport()
	cargo, err := tr.PostForm(context.Background(), srv.URL, url.Values{"url": {"http://example.com"}})
	require.NoError(t, err)
	assert.Equal(t, "queued", cargo.Notes)
}

func TestTransportNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	tr := NewTransport()
	_, err := tr.Get(context.Background(), srv.URL, nil)
	require.Error(t, err)

	te, ok := AsTransport(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusForbidden, te.StatusCode)
	assert.Equal(t, "Forbidden", te.Reason)
}

func TestTransportConnectionFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listening anymore

	tr := NewTransport()
	_, err := tr.Get(context.Background(), srv.URL, nil)
	require.Error(t, err)

	te, ok := AsTransport(err)
	require.True(t, ok)
	assert.Equal(t, 0, te.StatusCode)
}
