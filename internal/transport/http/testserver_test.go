package http

import (
	"encoding/json"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"strconv"
	"sync"

	"github.com/gorilla/mux"
)

// fixtureServer is a minimal stand-in for the backend this adapter
// talks to, routed with gorilla/mux the way
// TheEntropyCollective-noisefs wires its own HTTP surface.
type fixtureServer struct {
	mu      sync.Mutex
	files   map[string][]byte
	infos   map[string]wireFileItem
	deleted []string
	renamed [][2]string
	mkdirs  [][2]string

	forceUploadStatus int // 0 = normal 200/201 path
}

func newFixtureServer() *fixtureServer {
	return &fixtureServer{
		files: map[string][]byte{"/a/b/c.bin": []byte("hello world")},
		infos: map[string]wireFileItem{
			"/": {Name: "/", Path: "/", Type: "directory"},
		},
	}
}

func (f *fixtureServer) router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/files", f.handleList).Methods(nethttp.MethodGet)
	r.HandleFunc("/api/files", f.handleDelete).Methods(nethttp.MethodDelete)
	r.HandleFunc("/api/files/info", f.handleInfo).Methods(nethttp.MethodGet)
	r.HandleFunc("/api/files/download", f.handleDownload).Methods(nethttp.MethodGet)
	r.HandleFunc("/api/files/upload", f.handleUpload).Methods(nethttp.MethodPost)
	r.HandleFunc("/api/files/upload-base64", f.handleUploadBase64).Methods(nethttp.MethodPost)
	r.HandleFunc("/api/files/rename", f.handleRename).Methods(nethttp.MethodPut)
	r.HandleFunc("/api/files/directory", f.handleMkdir).Methods(nethttp.MethodPost)
	return r
}

func (f *fixtureServer) start() *httptest.Server {
	return httptest.NewServer(f.router())
}

func (f *fixtureServer) handleList(w nethttp.ResponseWriter, r *nethttp.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"files": []wireFileItem{
		{Name: "c.bin", Path: "/a/b/c.bin", Type: "file", Size: uint64(len(f.files["/a/b/c.bin"]))},
	}})
}

func (f *fixtureServer) handleInfo(w nethttp.ResponseWriter, r *nethttp.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(wireFileItem{Name: "b", Path: "/", Type: "directory"})
}

func (f *fixtureServer) handleDownload(w nethttp.ResponseWriter, r *nethttp.Request) {
	path := r.URL.Query().Get("path")
	f.mu.Lock()
	data, ok := f.files[path]
	f.mu.Unlock()
	if !ok {
		w.WriteHeader(nethttp.StatusNotFound)
		return
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

func (f *fixtureServer) handleUpload(w nethttp.ResponseWriter, r *nethttp.Request) {
	if f.forceUploadStatus != 0 {
		w.WriteHeader(f.forceUploadStatus)
		return
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		w.WriteHeader(nethttp.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		w.WriteHeader(nethttp.StatusBadRequest)
		return
	}
	defer file.Close()
	data, _ := io.ReadAll(file)
	f.mu.Lock()
	f.files["/uploaded/"+header.Filename] = data
	f.mu.Unlock()
	w.WriteHeader(nethttp.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "message": "stored"})
}

func (f *fixtureServer) handleUploadBase64(w nethttp.ResponseWriter, r *nethttp.Request) {
	var payload struct {
		Filename string `json:"filename"`
		Data     string `json:"data"`
	}
	_ = json.NewDecoder(r.Body).Decode(&payload)
	f.mu.Lock()
	f.files["/uploaded-b64/"+payload.Filename] = []byte(payload.Data)
	f.mu.Unlock()
	w.WriteHeader(nethttp.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "message": "stored via base64"})
}

func (f *fixtureServer) handleDelete(w nethttp.ResponseWriter, r *nethttp.Request) {
	f.mu.Lock()
	f.deleted = append(f.deleted, r.URL.Query().Get("path"))
	f.mu.Unlock()
	w.WriteHeader(nethttp.StatusNoContent)
}

func (f *fixtureServer) handleRename(w nethttp.ResponseWriter, r *nethttp.Request) {
	var payload struct{ OldPath, NewPath string }
	_ = json.NewDecoder(r.Body).Decode(&payload)
	f.mu.Lock()
	f.renamed = append(f.renamed, [2]string{payload.OldPath, payload.NewPath})
	f.mu.Unlock()
	w.WriteHeader(nethttp.StatusOK)
}

func (f *fixtureServer) handleMkdir(w nethttp.ResponseWriter, r *nethttp.Request) {
	var payload struct{ Path, Name string }
	_ = json.NewDecoder(r.Body).Decode(&payload)
	f.mu.Lock()
	f.mkdirs = append(f.mkdirs, [2]string{payload.Path, payload.Name})
	f.mu.Unlock()
	w.WriteHeader(nethttp.StatusCreated)
}
