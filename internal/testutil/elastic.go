package testutil

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// FakeElasticsearch is an in-memory stand-in for the Elasticsearch HTTP API:
// ping, index exists/create, count and bulk index operations.
//
// Every response carries the product header the official client checks.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FakeElasticsearch struct {
	srv *httptest.Server

	mu         sync.Mutex
	indices    map[string]map[string]json.RawMessage
	mappings   map[string]json.RawMessage
	bulkCalls  int
	dropConns  int
	failStatus int
	failCount  int
	rejected   map[string]string
	bulkBodies [][]byte
}

// NewFakeElasticsearch starts a fake cluster that lives for the test.
func NewFakeElasticsearch(t testing.TB) *FakeElasticsearch {
	t.Helper()
	f := &FakeElasticsearch{
		indices:  make(map[string]map[string]json.RawMessage),
		mappings: make(map[string]json.RawMessage),
		rejected: make(map[string]string),
	}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)
	return f
}

// URL is the cluster address.
func (f *FakeElasticsearch) URL() string {
	return f.srv.URL
}

// Close stops the server. Requests after Close fail in transport.
func (f *FakeElasticsearch) Close() {
	f.srv.Close()
}

// DropConnections makes the next n bulk requests fail in transport by
// closing the connection without a response.
func (f *FakeElasticsearch) DropConnections(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropConns = n
}

// FailBulk answers the next n bulk requests with status.
func (f *FakeElasticsearch) FailBulk(status, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failStatus = status
	f.failCount = n
}

// Reject makes bulk items with document id fail with a mapper error.
func (f *FakeElasticsearch) Reject(id, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejected[id] = reason
}

// CreateIndex creates an empty index.
func (f *FakeElasticsearch) CreateIndex(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.indices[name]; !ok {
		f.indices[name] = make(map[string]json.RawMessage)
	}
}

// HasIndex reports whether index name exists.
func (f *FakeElasticsearch) HasIndex(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.indices[name]
	return ok
}

// Mapping returns the body index name was created with.
func (f *FakeElasticsearch) Mapping(name string) json.RawMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mappings[name]
}

// Docs returns a copy of every document in index, keyed by id.
func (f *FakeElasticsearch) Docs(index string) map[string]json.RawMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]json.RawMessage, len(f.indices[index]))
	for id, doc := range f.indices[index] {
		out[id] = doc
	}
	return out
}

// Doc decodes one document into a generic map.
func (f *FakeElasticsearch) Doc(index, id string) (map[string]any, bool) {
	f.mu.Lock()
	raw, ok := f.indices[index][id]
	f.mu.Unlock()
	if !ok {
		return nil, false
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, false
	}
	return doc, true
}

// BulkCalls counts bulk requests that reached the handler, dropped and
// failed ones included.
func (f *FakeElasticsearch) BulkCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bulkCalls
}

// BulkBodies returns the raw bodies of successful bulk requests in order.
func (f *FakeElasticsearch) BulkBodies() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.bulkBodies...)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func esError(typ, reason string) map[string]any {
	return map[string]any{"error": map[string]any{"type": typ, "reason": reason}}
}

func (f *FakeElasticsearch) serve(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")

	switch {
	case r.URL.Path == "/":
		writeJSON(w, http.StatusOK, map[string]any{
			"name":         "fake",
			"cluster_name": "moviesync-test",
			"version":      map[string]any{"number": "8.17.0", "build_flavor": "default"},
			"tagline":      "You Know, for Search",
		})
	case parts[len(parts)-1] == "_bulk":
		f.serveBulk(w, r)
	case len(parts) == 2 && parts[1] == "_count":
		f.mu.Lock()
		n := len(f.indices[parts[0]])
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"count": n})
	case len(parts) == 1 && r.Method == http.MethodHead:
		if f.HasIndex(parts[0]) {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	case len(parts) == 1 && r.Method == http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		_, exists := f.indices[parts[0]]
		if !exists {
			f.indices[parts[0]] = make(map[string]json.RawMessage)
			f.mappings[parts[0]] = body
		}
		f.mu.Unlock()
		if exists {
			writeJSON(w, http.StatusBadRequest, esError("resource_already_exists_exception",
				fmt.Sprintf("index [%s] already exists", parts[0])))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"acknowledged": true, "index": parts[0]})
	default:
		writeJSON(w, http.StatusNotFound, esError("fake_unsupported", r.Method+" "+r.URL.Path))
	}
}

func (f *FakeElasticsearch) serveBulk(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	f.bulkCalls++
	drop := f.dropConns > 0
	if drop {
		f.dropConns--
	}
	status := 0
	if f.failCount > 0 {
		f.failCount--
		status = f.failStatus
	}
	f.mu.Unlock()

	if drop {
		hj, ok := w.(http.Hijacker)
		if !ok {
			panic("fake elasticsearch: response writer cannot hijack")
		}
		conn, _, err := hj.Hijack()
		if err == nil {
			conn.Close()
		}
		return
	}
	if status != 0 {
		writeJSON(w, status, esError("fake_failure", http.StatusText(status)))
		return
	}

	defaultIndex := ""
	if parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/"); len(parts) == 2 {
		defaultIndex = parts[0]
	}

	var items []map[string]any
	hasErrors := false
	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	f.mu.Lock()
	for sc.Scan() {
		var meta map[string]struct {
			Index string `json:"_index"`
			ID    string `json:"_id"`
		}
		if err := json.Unmarshal(sc.Bytes(), &meta); err != nil {
			f.mu.Unlock()
			writeJSON(w, http.StatusBadRequest, esError("parse_exception", err.Error()))
			return
		}
		op, ok := meta["index"]
		if !ok || !sc.Scan() {
			f.mu.Unlock()
			writeJSON(w, http.StatusBadRequest, esError("action_request_validation_exception", "expected index action with source"))
			return
		}
		index := op.Index
		if index == "" {
			index = defaultIndex
		}
		doc := append(json.RawMessage(nil), sc.Bytes()...)

		if reason, bad := f.rejected[op.ID]; bad {
			hasErrors = true
			items = append(items, map[string]any{"index": map[string]any{
				"_index": index, "_id": op.ID, "status": http.StatusBadRequest,
				"error": map[string]any{"type": "mapper_parsing_exception", "reason": reason},
			}})
			continue
		}

		docs, ok := f.indices[index]
		if !ok {
			docs = make(map[string]json.RawMessage)
			f.indices[index] = docs
		}
		result, code := "created", http.StatusCreated
		if _, exists := docs[op.ID]; exists {
			result, code = "updated", http.StatusOK
		}
		docs[op.ID] = doc
		items = append(items, map[string]any{"index": map[string]any{
			"_index": index, "_id": op.ID, "status": code, "result": result,
		}})
	}
	f.bulkBodies = append(f.bulkBodies, body)
	f.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"took": 1, "errors": hasErrors, "items": items})
}
