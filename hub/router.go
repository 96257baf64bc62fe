package hub

import (
	jsoniter "github.com/json-iterator/go"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/blockvault/hub/herr"
)

const maxSmallBodySize = 4 * 1024 // 4 KiB, spec.md §6's small-JSON-body endpoints

var (
	storeRe       = regexp.MustCompile(`^/store/([A-Za-z0-9]+)/(.+)$`)
	deleteRe      = regexp.MustCompile(`^/delete/([A-Za-z0-9]+)/(.+)$`)
	listFilesRe   = regexp.MustCompile(`^/list-files/([A-Za-z0-9]+)/?$`)
	performRe     = regexp.MustCompile(`^/perform-files/([A-Za-z0-9]+)/?$`)
	revokeRe      = regexp.MustCompile(`^/revoke-all/([A-Za-z0-9]+)/?$`)
)

// Router dispatches HTTP requests to Hub per spec.md §6's method/path table.
type Router struct {
	Hub *Hub
}

// NewRouter builds a Router over hub.
func NewRouter(hub *Hub) *Router { return &Router{Hub: hub} }

// ServeHTTP implements http.Handler.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	applyCORS(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	switch {
	case r.Method == http.MethodPost && storeRe.MatchString(r.URL.Path):
		rt.serveStore(w, r, storeRe.FindStringSubmatch(r.URL.Path))
	case r.Method == http.MethodDelete && deleteRe.MatchString(r.URL.Path):
		rt.serveDelete(w, r, deleteRe.FindStringSubmatch(r.URL.Path))
	case r.Method == http.MethodPost && listFilesRe.MatchString(r.URL.Path):
		rt.serveListFiles(w, r, listFilesRe.FindStringSubmatch(r.URL.Path))
	case r.Method == http.MethodPost && performRe.MatchString(r.URL.Path):
		rt.servePerformFiles(w, r, performRe.FindStringSubmatch(r.URL.Path))
	case r.Method == http.MethodPost && revokeRe.MatchString(r.URL.Path):
		rt.serveRevokeAll(w, r, revokeRe.FindStringSubmatch(r.URL.Path))
	case r.Method == http.MethodGet && r.URL.Path == "/hub_info/":
		rt.serveHubInfo(w, r)
	case r.Method == http.MethodGet && r.URL.Path == "/metrics":
		promhttp.HandlerFor(rt.Hub.metrics.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	case r.Method == http.MethodGet && r.URL.Path == "/":
		rt.serveWelcome(w, r)
	default:
		writeError(w, herr.DoesNotExist("no route for %s %s", r.Method, r.URL.Path))
	}
}

func applyCORS(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "DELETE,POST,GET,OPTIONS,HEAD")
	h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, If-Match, If-None-Match")
	h.Set("Access-Control-Max-Age", "86400")
}

func (rt *Router) serveStore(w http.ResponseWriter, r *http.Request, m []string) {
	address, path := m[1], strings.TrimSuffix(m[2], "/")
	req := WriteRequest{
		AuthHeader:    r.Header.Get("Authorization"),
		BucketAddress: address,
		Path:          path,
		Content:       r.Body,
		ContentType:   r.Header.Get("Content-Type"),
		ContentLength: parseContentLength(r.Header.Get("Content-Length")),
		IfMatch:       r.Header.Get("If-Match"),
		IfNoneMatch:   r.Header.Get("If-None-Match"),
	}
	resp, err := rt.Hub.HandleWrite(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (rt *Router) serveDelete(w http.ResponseWriter, r *http.Request, m []string) {
	address, path := m[1], strings.TrimSuffix(m[2], "/")
	req := DeleteRequest{
		AuthHeader:    r.Header.Get("Authorization"),
		BucketAddress: address,
		Path:          path,
		IfMatch:       r.Header.Get("If-Match"),
		IfNoneMatch:   r.Header.Get("If-None-Match"),
	}
	if err := rt.Hub.HandleDelete(r.Context(), req); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type listFilesBody struct {
	Page     string `json:"page"`
	PageSize int    `json:"pageSize"`
	Stat     bool   `json:"stat"`
}

func (rt *Router) serveListFiles(w http.ResponseWriter, r *http.Request, m []string) {
	var body listFilesBody
	if err := readSmallJSONBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	req := ListRequest{
		AuthHeader:    r.Header.Get("Authorization"),
		BucketAddress: m[1],
		Page:          body.Page,
		PageSize:      body.PageSize,
		Stat:          body.Stat,
	}
	resp, err := rt.Hub.HandleListFiles(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (rt *Router) servePerformFiles(w http.ResponseWriter, r *http.Request, m []string) {
	limited := io.LimitReader(r.Body, rt.Hub.Config.MaxFileUploadSize+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		writeError(w, herr.ServerError("%v", err))
		return
	}
	if int64(len(data)) > rt.Hub.Config.MaxFileUploadSize {
		writeError(w, herr.PayloadTooLarge("perform-files body exceeds maximum %d", rt.Hub.Config.MaxFileUploadSize))
		return
	}
	var root PerformNode
	if err := jsoniter.Unmarshal(data, &root); err != nil {
		writeError(w, herr.InvalidInput("malformed perform-files body: %v", err))
		return
	}
	results, err := rt.Hub.HandlePerformFiles(r.Context(), r.Header.Get("Authorization"), m[1], root)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, results)
}

type revokeAllBody struct {
	OldestValidTimestamp int64 `json:"oldestValidTimestamp"`
}

func (rt *Router) serveRevokeAll(w http.ResponseWriter, r *http.Request, m []string) {
	var body revokeAllBody
	if err := readSmallJSONBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	req := RevokeRequest{
		AuthHeader:           r.Header.Get("Authorization"),
		BucketAddress:        m[1],
		OldestValidTimestamp: body.OldestValidTimestamp,
	}
	if err := rt.Hub.HandleAuthBump(r.Context(), req); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "success"})
}

type hubInfoResponse struct {
	ChallengeText       string `json:"challenge_text"`
	LatestAuthVersion   string `json:"latest_auth_version"`
	MaxFileUploadSizeMB int64  `json:"max_file_upload_size_megabytes"`
	ReadURLPrefix       string `json:"read_url_prefix"`
}

func (rt *Router) serveHubInfo(w http.ResponseWriter, r *http.Request) {
	cfg := rt.Hub.Config
	readPrefix := cfg.ReadURL
	if readPrefix == "" {
		readPrefix = rt.Hub.Driver.GetReadURLPrefix()
	}
	writeJSON(w, http.StatusOK, hubInfoResponse{
		ChallengeText:       rt.Hub.challengeText,
		LatestAuthVersion:   "v1",
		MaxFileUploadSizeMB: cfg.MaxFileUploadSize / (1024 * 1024),
		ReadURLPrefix:       readPrefix,
	})
}

func (rt *Router) serveWelcome(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("<html><body><h1>hub</h1></body></html>"))
}

func readSmallJSONBody(r *http.Request, dst interface{}) error {
	limited := io.LimitReader(r.Body, maxSmallBodySize+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return herr.ServerError("%v", err)
	}
	if len(data) > maxSmallBodySize {
		return herr.PayloadTooLarge("request body exceeds %d bytes", maxSmallBodySize)
	}
	if len(data) == 0 {
		return nil
	}
	if err := jsoniter.Unmarshal(data, dst); err != nil {
		return herr.InvalidInput("malformed JSON body: %v", err)
	}
	return nil
}

type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
	ETag    string `json:"etag,omitempty"`

	OldestValidTokenTimestamp int64 `json:"oldestValidTokenTimestamp,omitempty"`
}

// writeError maps a *herr.Error (or any error) to its HTTP status and body
// per spec.md §6's error table.
func writeError(w http.ResponseWriter, err error) {
	he := herr.AsHubError(err)
	status := he.Kind.StatusCode()
	if status >= 500 {
		glog.Errorf("hub: internal error: %v", err)
	}
	writeJSON(w, status, errorBody{
		Message:                   he.Message,
		Error:                     he.Message,
		ETag:                      he.ETag,
		OldestValidTokenTimestamp: he.OldestValidTokenTimestamp,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := jsoniter.NewEncoder(w).Encode(v); err != nil {
		glog.Errorf("hub: failed writing JSON response: %v", err)
	}
}
