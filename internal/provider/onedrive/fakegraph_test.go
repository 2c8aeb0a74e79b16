package onedrive

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/cloudtree/cloudtree/internal/graph"
)

const testDrive = "d"

type fakeItem struct {
	id       string
	name     string
	parentID string
	folder   bool
	data     []byte
	hash     string // overrides the computed QuickXorHash
}

// fakeGraph is an in-memory drive served over the Graph URL shapes the
// client uses.
type fakeGraph struct {
	t   *testing.T
	srv *httptest.Server

	mu     sync.Mutex
	items  map[string]*fakeItem
	nextID int
	calls  []string
	token  string

	// uploadHash, when set, is reported as the hash of uploaded items.
	uploadHash string
}

func newFakeGraph(t *testing.T) *fakeGraph {
	t.Helper()

	g := &fakeGraph{
		t:     t,
		items: map[string]*fakeItem{"root": {id: "root", name: "root", folder: true}},
		token: "good-token",
	}
	g.srv = httptest.NewServer(http.HandlerFunc(g.handle))
	t.Cleanup(g.srv.Close)

	return g
}

func (g *fakeGraph) client() *graph.Client {
	return graph.NewClient(g.srv.URL, g.srv.Client(),
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: g.token, TokenType: "Bearer"}), slog.Default())
}

func (g *fakeGraph) adapter(t *testing.T) *Adapter {
	t.Helper()

	a, err := New(g.client(), testDrive, slog.Default(), WithCopyPoll(time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}

	return a
}

// put creates the item at p (and missing parents) and returns it.
func (g *fakeGraph) put(p string, folder bool, data string) *fakeItem {
	g.mu.Lock()
	defer g.mu.Unlock()

	parent := g.items["root"]
	segs := strings.Split(strings.Trim(p, "/"), "/")

	for i, seg := range segs {
		child := g.child(parent.id, seg)
		if child == nil {
			child = g.newItem(parent.id, seg, i < len(segs)-1 || folder)
		}

		parent = child
	}

	parent.data = []byte(data)

	return parent
}

func (g *fakeGraph) newItem(parentID, name string, folder bool) *fakeItem {
	g.nextID++
	it := &fakeItem{id: fmt.Sprintf("id-%d", g.nextID), name: name, parentID: parentID, folder: folder}
	g.items[it.id] = it

	return it
}

func (g *fakeGraph) child(parentID, name string) *fakeItem {
	for _, it := range g.items {
		if it.parentID == parentID && it.name == name {
			return it
		}
	}

	return nil
}

func (g *fakeGraph) byPath(p string) *fakeItem {
	cur := g.items["root"]

	for _, seg := range strings.Split(strings.Trim(p, "/"), "/") {
		if seg == "" {
			continue
		}

		if cur = g.child(cur.id, seg); cur == nil {
			return nil
		}
	}

	return cur
}

func (g *fakeGraph) pathOf(it *fakeItem) string {
	if it.id == "root" {
		return ""
	}

	return g.pathOf(g.items[it.parentID]) + "/" + it.name
}

func (g *fakeGraph) exists(p string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.byPath(p) != nil
}

func (g *fakeGraph) content(p string) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	return string(g.byPath(p).data)
}

func (g *fakeGraph) json(it *fakeItem) map[string]any {
	m := map[string]any{
		"id":                   it.id,
		"name":                 it.name,
		"size":                 len(it.data),
		"createdDateTime":      "2024-01-01T00:00:00Z",
		"lastModifiedDateTime": "2024-02-01T00:00:00Z",
	}

	if it.id == "root" {
		m["root"] = map[string]any{}
		m["folder"] = map[string]any{"childCount": 0}

		return m
	}

	m["parentReference"] = map[string]any{
		"id":      it.parentID,
		"driveId": testDrive,
		"path":    "/drive/root:" + g.pathOf(g.items[it.parentID]),
	}

	if it.folder {
		m["folder"] = map[string]any{"childCount": 0}
	} else {
		h := newQuickXor()
		h.Write(it.data)

		sum := h.encoded()
		if it.hash != "" {
			sum = it.hash
		}

		m["file"] = map[string]any{
			"mimeType": "application/octet-stream",
			"hashes":   map[string]any{"quickXorHash": sum},
		}
		m["@microsoft.graph.downloadUrl"] = g.srv.URL + "/blob/" + it.id
	}

	return m
}

func (g *fakeGraph) write(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.t.Errorf("encoding response: %v", err)
	}
}

func (g *fakeGraph) children(w http.ResponseWriter, parent *fakeItem) {
	var out []map[string]any

	for _, it := range g.items {
		if it.parentID == parent.id {
			out = append(out, g.json(it))
		}
	}

	g.write(w, http.StatusOK, map[string]any{"value": out})
}

func (g *fakeGraph) handle(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	defer g.mu.Unlock()

	p := r.URL.Path

	if strings.HasPrefix(p, "/blob/") {
		it := g.items[strings.TrimPrefix(p, "/blob/")]
		if it == nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		_, _ = w.Write(it.data)

		return
	}

	if strings.HasPrefix(p, "/monitor/") {
		g.write(w, http.StatusOK, map[string]any{
			"status": "completed", "resourceId": strings.TrimPrefix(p, "/monitor/"),
		})

		return
	}

	if r.Header.Get("Authorization") != "Bearer "+g.token {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	if p == "/me" {
		g.write(w, http.StatusOK, map[string]any{"id": "u1", "displayName": "Test User", "mail": "t@example.com"})
		return
	}

	const drive = "/drives/" + testDrive

	switch {
	case p == drive+"/root":
		g.write(w, http.StatusOK, g.json(g.items["root"]))
	case p == drive+"/root/children":
		g.children(w, g.items["root"])
	case strings.HasPrefix(p, drive+"/root:/"):
		rest := strings.TrimPrefix(p, drive+"/root:")
		listing := strings.HasSuffix(rest, ":/children")
		rest = strings.TrimSuffix(strings.TrimSuffix(rest, "/children"), ":")

		it := g.byPath(rest)
		if it == nil {
			g.write(w, http.StatusNotFound, map[string]any{"error": map[string]any{"code": "itemNotFound"}})
			return
		}

		if listing {
			g.children(w, it)
			return
		}

		g.write(w, http.StatusOK, g.json(it))
	case strings.HasPrefix(p, drive+"/items/"):
		g.handleItem(w, r, strings.TrimPrefix(p, drive+"/items/"))
	default:
		g.t.Errorf("unexpected request %s %s", r.Method, p)
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func (g *fakeGraph) handleItem(w http.ResponseWriter, r *http.Request, rest string) {
	// {parent}:/{name}:/content
	if id, tail, ok := strings.Cut(rest, ":/"); ok && strings.HasSuffix(tail, ":/content") {
		name := strings.TrimSuffix(tail, ":/content")
		g.calls = append(g.calls, "upload "+name)

		data, _ := io.ReadAll(r.Body)

		it := g.child(id, name)
		if it == nil {
			it = g.newItem(id, name, false)
		}

		it.data = data
		it.hash = g.uploadHash
		g.write(w, http.StatusCreated, g.json(it))

		return
	}

	id, action, _ := strings.Cut(rest, "/")

	it := g.items[id]
	if it == nil {
		g.write(w, http.StatusNotFound, map[string]any{})
		return
	}

	var body map[string]any
	if r.Method == http.MethodPost || r.Method == http.MethodPatch {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		g.write(w, http.StatusOK, g.json(it))
	case action == "children" && r.Method == http.MethodPost:
		name, _ := body["name"].(string)
		g.calls = append(g.calls, "mkdir "+name)

		if g.child(id, name) != nil {
			g.write(w, http.StatusConflict, map[string]any{"error": map[string]any{"code": "nameAlreadyExists"}})
			return
		}

		g.write(w, http.StatusCreated, g.json(g.newItem(id, name, true)))
	case action == "copy":
		ref, _ := body["parentReference"].(map[string]any)
		parentID, _ := ref["id"].(string)
		name, _ := body["name"].(string)
		g.calls = append(g.calls, "copy "+it.name+" "+name)

		cp := g.newItem(parentID, name, it.folder)
		cp.data = append([]byte(nil), it.data...)

		w.Header().Set("Location", g.srv.URL+"/monitor/"+cp.id)
		w.WriteHeader(http.StatusAccepted)
	case r.Method == http.MethodPatch:
		g.calls = append(g.calls, "move "+it.name)

		if ref, ok := body["parentReference"].(map[string]any); ok {
			it.parentID, _ = ref["id"].(string)
		}

		if name, ok := body["name"].(string); ok && name != "" {
			it.name = name
		}

		g.write(w, http.StatusOK, g.json(it))
	case r.Method == http.MethodDelete:
		g.calls = append(g.calls, "delete "+it.name)
		g.remove(id)
		w.WriteHeader(http.StatusNoContent)
	case action == "createLink":
		g.write(w, http.StatusCreated, map[string]any{
			"link": map[string]any{"type": "view", "scope": body["scope"], "webUrl": "https://share.example/" + id},
		})
	default:
		g.t.Errorf("unexpected item request %s %s", r.Method, rest)
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func (g *fakeGraph) remove(id string) {
	for cid, it := range g.items {
		if it.parentID == id {
			g.remove(cid)
		}
	}

	delete(g.items, id)
}

func (g *fakeGraph) recorded() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	return append([]string(nil), g.calls...)
}
