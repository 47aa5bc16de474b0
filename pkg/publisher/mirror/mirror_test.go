package mirror

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exercise(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "oracle_test_2.json", []byte(`{"n":2}`)))
	require.NoError(t, s.Put(ctx, "oracle_test_1.json", []byte(`{"n":1}`)))
	require.NoError(t, s.Put(ctx, "other.json", []byte(`{}`)))

	got, err := s.Get(ctx, "oracle_test_1.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1}`, string(got))

	require.NoError(t, s.Put(ctx, "oracle_test_1.json", []byte(`{"n":11}`)))
	got, err = s.Get(ctx, "oracle_test_1.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":11}`, string(got))

	keys, err := s.List(ctx, "oracle_test_")
	require.NoError(t, err)
	assert.Equal(t, []string{"oracle_test_1.json", "oracle_test_2.json"}, keys)

	require.NoError(t, s.Delete(ctx, "oracle_test_2.json"))
	require.NoError(t, s.Delete(ctx, "oracle_test_2.json"))
	_, err = s.Get(ctx, "oracle_test_2.json")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFSStore(t *testing.T) {
	s, err := NewFSStore(afero.NewMemMapFs(), "/mirror", "")
	require.NoError(t, err)
	exercise(t, s)
	assert.Equal(t, "file:///mirror/a.json", s.URL("a.json"))
}

func TestFSStorePublicURL(t *testing.T) {
	s, err := NewFSStore(afero.NewMemMapFs(), "/mirror", "https://cdn.example.com/")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/a.json", s.URL("a.json"))
}

func TestFSStoreRejectsPathKeys(t *testing.T) {
	s, err := NewFSStore(afero.NewMemMapFs(), "/mirror", "")
	require.NoError(t, err)

	for _, key := range []string{"", "..", "a/b.json", `a\b.json`} {
		assert.Error(t, s.Put(context.Background(), key, []byte("x")), key)
	}
}

// fakeS3 implements the handful of path-style S3 calls the store makes.
type fakeS3 struct {
	mu      sync.Mutex
	bucket  string
	objects map[string][]byte
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p := strings.TrimPrefix(r.URL.Path, "/"+f.bucket)
	key := strings.TrimPrefix(p, "/")

	switch {
	case key == "" && r.Method == http.MethodGet:
		prefix := r.URL.Query().Get("prefix")
		var keys []string
		for k := range f.objects {
			if strings.HasPrefix(k, prefix) {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		var b strings.Builder
		b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
		b.WriteString(`<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">`)
		fmt.Fprintf(&b, "<Name>%s</Name><Prefix>%s</Prefix><KeyCount>%d</KeyCount>", f.bucket, prefix, len(keys))
		b.WriteString("<MaxKeys>1000</MaxKeys><IsTruncated>false</IsTruncated>")
		for _, k := range keys {
			fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size></Contents>", k, len(f.objects[k]))
		}
		b.WriteString("</ListBucketResult>")
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(b.String()))
	case r.Method == http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[key] = body
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodGet:
		body, ok := f.objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`))
			return
		}
		_, _ = w.Write(body)
	case r.Method == http.MethodDelete:
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestS3Store(t *testing.T) {
	fake := &fakeS3{bucket: "snapshots", objects: map[string][]byte{}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	s, err := NewS3Store(context.Background(), S3Config{
		Bucket:    "snapshots",
		Region:    "us-east-1",
		Endpoint:  srv.URL,
		AccessKey: "test",
		SecretKey: "test",
	})
	require.NoError(t, err)

	exercise(t, s)
	assert.Equal(t, srv.URL+"/snapshots/a.json", s.URL("a.json"))
}

func TestNewS3StoreRequiresBucket(t *testing.T) {
	_, err := NewS3Store(context.Background(), S3Config{})
	assert.Error(t, err)
}
