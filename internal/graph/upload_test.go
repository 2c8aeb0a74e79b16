package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimpleUpload_Success(t *testing.T) {
	content := "simple upload file content"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/drives/d/items/parent:/upload.txt:/content", r.URL.Path)
		assert.Equal(t, "application/octet-stream", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Equal(t, content, string(body))

		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"id":"new-item-1","name":"upload.txt","size":%d}`, len(content))
	}))
	defer srv.Close()

	item, err := newTestClient(t, srv.URL).SimpleUpload(
		context.Background(), "d", "parent", "upload.txt",
		strings.NewReader(content), int64(len(content)),
	)
	require.NoError(t, err)
	assert.Equal(t, "new-item-1", item.ID)
}

func TestSimpleUpload_ErrorIsClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInsufficientStorage)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).SimpleUpload(context.Background(), "d", "p", "x", strings.NewReader("x"), 1)
	assert.ErrorIs(t, err, ErrInsufficientStorage)
}

// sessionServer records chunk uploads against a fake upload session.
type sessionServer struct {
	t        *testing.T
	srv      *httptest.Server
	mu       sync.Mutex
	ranges   []string
	received bytes.Buffer
	canceled bool
	mtime    string
}

func newSessionServer(t *testing.T) *sessionServer {
	t.Helper()

	s := &sessionServer{t: t}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.srv.Close)

	return s
}

func (s *sessionServer) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case strings.HasSuffix(r.URL.Path, "/createUploadSession"):
		var req createUploadSessionRequest
		require.NoError(s.t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(s.t, ConflictReplace, req.Item.ConflictBehavior)

		if req.Item.FileSystemInfo != nil {
			s.mtime = req.Item.FileSystemInfo.LastModifiedDateTime
		}

		fmt.Fprintf(w, `{"uploadUrl":"%s/session/1","expirationDateTime":"2030-01-01T00:00:00Z"}`, s.srv.URL)
	case r.URL.Path == "/session/1" && r.Method == http.MethodPut:
		assert.Empty(s.t, r.Header.Get("Authorization"))

		s.ranges = append(s.ranges, r.Header.Get("Content-Range"))

		_, err := io.Copy(&s.received, r.Body)
		require.NoError(s.t, err)

		var start, end, total int64
		_, err = fmt.Sscanf(r.Header.Get("Content-Range"), "bytes %d-%d/%d", &start, &end, &total)
		require.NoError(s.t, err)

		if end+1 < total {
			w.WriteHeader(http.StatusAccepted)
			return
		}

		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"id":"big-1","name":"big.bin","size":%d}`, total)
	case r.URL.Path == "/session/1" && r.Method == http.MethodDelete:
		s.canceled = true
		w.WriteHeader(http.StatusNoContent)
	default:
		s.t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
	}
}

func TestUploadWriter_Chunked(t *testing.T) {
	s := newSessionServer(t)
	c := newTestClient(t, s.srv.URL)

	size := int64(2*uploadChunkSize + 1000)
	payload := bytes.Repeat([]byte("z"), int(size))
	mtime := time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC)

	w := c.NewUploadWriter(context.Background(), "d", "p", "big.bin", size, mtime)

	// Odd-sized writes must still produce aligned chunks.
	for off := 0; off < len(payload); off += 100_000 {
		end := min(off+100_000, len(payload))
		_, err := w.Write(payload[off:end])
		require.NoError(t, err)
	}

	require.NoError(t, w.Close())
	require.NotNil(t, w.Item())
	assert.Equal(t, "big-1", w.Item().ID)

	assert.Equal(t, []string{
		fmt.Sprintf("bytes 0-%d/%d", uploadChunkSize-1, size),
		fmt.Sprintf("bytes %d-%d/%d", uploadChunkSize, 2*uploadChunkSize-1, size),
		fmt.Sprintf("bytes %d-%d/%d", 2*uploadChunkSize, size-1, size),
	}, s.ranges)
	assert.Equal(t, size, int64(s.received.Len()))
	assert.Equal(t, "2024-03-04T05:06:07Z", s.mtime)
}

func TestUploadWriter_SmallFileUsesSimpleUpload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, ":/content"))
		fmt.Fprint(w, `{"id":"small","name":"s.txt","size":5}`)
	}))
	defer srv.Close()

	w := newTestClient(t, srv.URL).NewUploadWriter(context.Background(), "d", "p", "s.txt", 5, time.Time{})

	_, err := w.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.Equal(t, "small", w.Item().ID)
}

func TestUploadWriter_Overflow(t *testing.T) {
	w := newTestClient(t, "http://unused").NewUploadWriter(context.Background(), "d", "p", "x", 3, time.Time{})

	_, err := w.Write([]byte("toolong"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds declared size")
}

func TestUploadWriter_ShortCloseCancelsSession(t *testing.T) {
	s := newSessionServer(t)
	c := newTestClient(t, s.srv.URL)

	size := int64(uploadChunkSize + SimpleUploadMaxSize)
	w := c.NewUploadWriter(context.Background(), "d", "p", "big.bin", size, time.Time{})

	_, err := w.Write(bytes.Repeat([]byte("a"), uploadChunkSize))
	require.NoError(t, err)

	err = w.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "short")
	assert.True(t, s.canceled)

	_, err = w.Write([]byte("a"))
	assert.ErrorIs(t, err, ErrUploadClosed)
}

func TestQueryUploadSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"expirationDateTime":"2030-01-01T00:00:00Z","nextExpectedRanges":["1024-"]}`)
	}))
	defer srv.Close()

	st, err := newTestClient(t, srv.URL).QueryUploadSession(context.Background(), &UploadSession{UploadURL: srv.URL + "/s"})
	require.NoError(t, err)
	assert.Equal(t, []string{"1024-"}, st.NextExpectedRanges)
	assert.Equal(t, srv.URL+"/s", st.UploadURL)
	assert.Equal(t, 2030, st.ExpirationTime.Year())
}

func TestUploadChunk_RangeNotSatisfiable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).UploadChunk(context.Background(),
		&UploadSession{UploadURL: srv.URL}, []byte("abc"), 0, 10)
	assert.ErrorIs(t, err, ErrRangeNotSatisfiable)
}
