/*
Package handler implements the HTTP read path for published trees

Note: much of this code is cribbed from https://github.com/filecoin-project/boost/blob/main/cmd/booster-http/server.go
*/
package handler

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/fatih/color"
	dirpin "github.com/ipfs/dirpin/pkg"
	"github.com/ipfs/dirpin/pkg/retrieval"
	"github.com/ipfs/go-cid"
)

const (
	contentTypeJSON   = "application/json"
	contentTypeBinary = "application/octet-stream"
	contentTypeCAR    = "application/vnd.ipld.car"
)

// CARExporter is implemented by stores that can serialize a root's DAG as a CAR
type CARExporter interface {
	ExportCAR(ctx context.Context, root cid.Cid, w io.Writer) error
}

// Handler is an HTTP Handler serving trees out of a store under /<prefix>/<cid>[/<path>]
type Handler struct {
	prefix   string
	verifier *retrieval.Verifier
	exporter CARExporter
	gzipped  http.Handler
}

// NewHandler constructs an http Handler for given prefix + store. CAR responses are only
// available when store also implements CARExporter.
func NewHandler(prefix string, store retrieval.Getter) *Handler {
	h := &Handler{
		prefix:   prefix,
		verifier: retrieval.New(store),
	}
	if exporter, ok := store.(CARExporter); ok {
		h.exporter = exporter
	}
	h.gzipped = gzipResponses(http.HandlerFunc(h.serve))
	return h
}

// gzipResponses compresses every response body when the client accepts gzip
var gzipResponses = func() func(http.Handler) http.Handler {
	wrap, err := gziphandler.NewGzipLevelAndMinSize(gzip.DefaultCompression, 0)
	if err != nil {
		panic(err)
	}
	return wrap
}()

var _ http.Handler = (*Handler)(nil)

// writeErrorWatcher calls onError if there is an error writing to the writer
type writeErrorWatcher struct {
	http.ResponseWriter
	count   uint64
	onError func(err error)
}

func (w *writeErrorWatcher) Write(bz []byte) (int, error) {
	count, err := w.ResponseWriter.Write(bz)
	if err != nil {
		w.onError(err)
	}
	w.count += uint64(count)
	return count, err
}

const timeFmt = "2006-01-02T15:04:05.000Z0700"

func alog(l string, args ...interface{}) {
	alogAt(time.Now(), l, args...)
}

func alogAt(at time.Time, l string, args ...interface{}) {
	fmt.Printf(at.Format(timeFmt)+"\t"+l+"\n", args...)
}

func serveContent(w http.ResponseWriter, r *http.Request, contentType string, content io.ReadSeeker) {
	// Set the Content-Type header explicitly so that http.ServeContent doesn't
	// try to do it implicitly
	w.Header().Set("Content-Type", contentType)

	// http.ServeContent ignores errors when writing to the stream, so we
	// replace the writer with a class that watches for errors
	var err error
	writer := &writeErrorWatcher{ResponseWriter: w, onError: func(e error) {
		err = e
	}}

	start := time.Now()
	alogAt(start, "%s\t%s %s", color.New(color.FgGreen).Sprintf("%d", http.StatusOK), r.Method, r.URL)

	if r.Method == http.MethodHead {
		// For an HTTP HEAD request ServeContent doesn't send any data (just headers)
		http.ServeContent(writer, r, "", time.Time{}, content)
		return
	}

	// The last modified time is constant because the data under a CID never changes
	http.ServeContent(writer, r, "", lastModified, content)

	end := time.Now()
	completeMsg := fmt.Sprintf("GET %s\n%s - %s: %s / %s bytes transferred",
		r.URL, end.Format(timeFmt), start.Format(timeFmt), time.Since(start), addCommas(writer.count))
	if w.Header().Get("Content-Encoding") == "gzip" {
		completeMsg += " (gzipped)"
	}
	if err == nil {
		alogAt(end, "%s\t%s", color.New(color.FgGreen).Sprint("DONE"), completeMsg)
	} else {
		alogAt(end, "%s\t%s\n%s",
			color.New(color.FgRed).Sprint("FAIL"), completeMsg, err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	w.WriteHeader(status)
	w.Write([]byte("Error: " + msg)) //nolint:errcheck
	alog("%s\t%s %s\n%s",
		color.New(color.FgRed).Sprintf("%d", status), r.Method, r.URL, msg)
}

// For data served by the endpoints in the HTTP server that never changes
// (eg trees identified by a root CID) send a cache header with a constant,
// non-zero last modified time.
var lastModified = time.UnixMilli(1)

func addCommas(count uint64) string {
	str := fmt.Sprintf("%d", count)
	for i := len(str) - 3; i > 0; i -= 3 {
		str = str[:i] + "," + str[i:]
	}
	return str
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.gzipped.ServeHTTP(w, r)
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, r, http.StatusMethodNotAllowed, fmt.Sprintf("method %s not allowed", r.Method))
		return
	}
	// remove paths that are too short
	if len(r.URL.Path) <= len(h.prefix)+2 {
		msg := fmt.Sprintf("path '%s' is missing CID", r.URL.Path)
		writeError(w, r, http.StatusBadRequest, msg)
		return
	}

	// remove prefix
	prefix, remaining := r.URL.Path[:len(h.prefix)+2], r.URL.Path[len(h.prefix)+2:]
	if prefix != "/"+h.prefix+"/" {
		msg := fmt.Sprintf("incorrect prefix -- expected: %s, got: %s", "/"+h.prefix+"/", prefix)
		writeError(w, r, http.StatusBadRequest, msg)
		return
	}
	// parse root CID
	cidString, filePath, _ := strings.Cut(remaining, "/")
	rootCid, err := cid.Parse(cidString)
	if err != nil {
		msg := fmt.Sprintf("parsing CID '%s': %s", cidString, err.Error())
		writeError(w, r, http.StatusBadRequest, msg)
		return
	}

	if r.URL.Query().Get("format") == "car" {
		if filePath != "" {
			writeError(w, r, http.StatusBadRequest, "CAR responses are only available for a root CID")
			return
		}
		h.serveCAR(w, r, rootCid)
		return
	}

	content, err := h.verifier.Retrieve(r.Context(), rootCid)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}

	if filePath == "" {
		listing, err := json.Marshal(content.Paths())
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, err.Error())
			return
		}
		serveContent(w, r, contentTypeJSON, bytes.NewReader(listing))
		return
	}
	data, ok := content[strings.TrimSuffix(filePath, "/")]
	if !ok {
		writeError(w, r, http.StatusNotFound, fmt.Sprintf("no file at path '%s' under %s", filePath, rootCid))
		return
	}
	serveContent(w, r, contentTypeBinary, bytes.NewReader(data))
}

func (h *Handler) serveCAR(w http.ResponseWriter, r *http.Request, root cid.Cid) {
	if h.exporter == nil {
		writeError(w, r, http.StatusNotImplemented, "store cannot export CAR files")
		return
	}
	// create a temporary file for the response (we want to serialize the whole thing to know
	// if it will be a success)
	responseFile, err := os.CreateTemp("", root.String()+"-")
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "error setting up response")
		return
	}
	defer func() {
		_ = responseFile.Close()
		os.Remove(responseFile.Name())
	}()

	if err := h.exporter.ExportCAR(r.Context(), root, responseFile); err != nil {
		writeStoreError(w, r, err)
		return
	}
	if _, err := responseFile.Seek(0, io.SeekStart); err != nil {
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	serveContent(w, r, contentTypeCAR, responseFile)
}

func writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	var errNotFound dirpin.ErrNotFound
	if errors.As(err, &errNotFound) {
		writeError(w, r, http.StatusNotFound, err.Error())
		return
	}
	writeError(w, r, http.StatusInternalServerError, err.Error())
}
