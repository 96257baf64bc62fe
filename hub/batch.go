package hub

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/teris-io/shortid"
	"golang.org/x/sync/errgroup"

	"github.com/blockvault/hub/auth"
	"github.com/blockvault/hub/driver"
	"github.com/blockvault/hub/herr"
)

// parallelFanOut is spec.md §4.12's fixed window size for non-sequential
// interior nodes, and §5's "bounded (fan-out 10)" concurrency limit.
const parallelFanOut = 10

// maxLeafErrorLen truncates a captured per-leaf error message, spec.md §4.12.
const maxLeafErrorLen = 999

// PerformNode is one node of the perform-files tree, spec.md §4.12.
// Interior nodes set Values (and optionally IsSequential); leaf nodes set
// Type (and the fields that type needs). A node is a leaf iff Type != "".
type PerformNode struct {
	Values       []PerformNode `json:"values,omitempty"`
	IsSequential bool          `json:"isSequential,omitempty"`

	ID                        string              `json:"id,omitempty"`
	Type                      string              `json:"type,omitempty"`
	Path                      string              `json:"path,omitempty"`
	Content                   jsoniter.RawMessage `json:"content,omitempty"`
	ContentType               string              `json:"contentType,omitempty"`
	DoIgnoreDoesNotExistError bool                `json:"doIgnoreDoesNotExistError,omitempty"`
}

func (n PerformNode) isLeaf() bool { return n.Type != "" }

const (
	leafTypePut    = "PUT"
	leafTypeDelete = "DELETE"
)

// LeafResult is one entry of the batch's JSON array response.
type LeafResult struct {
	ID        string `json:"id"`
	Success   bool   `json:"success"`
	PublicURL string `json:"publicURL,omitempty"`
	ETag      string `json:"etag,omitempty"`
	Error     string `json:"error,omitempty"`
}

type batchRun struct {
	h      *Hub
	ctx    context.Context
	bucket string
	signer auth.EffectiveSigner

	mu       sync.Mutex
	fileLogs []driver.FileLogRecord
}

// HandlePerformFiles implements spec.md §4.12: verify the token once for
// the whole batch, then walk the tree applying sequential short-circuit
// or bounded parallel fan-out at each interior node.
func (h *Hub) HandlePerformFiles(ctx context.Context, authHeader, bucketAddress string, root PerformNode) (_ []LeafResult, err error) {
	start := time.Now()
	defer func() { h.metrics.observe("perform-files", start, err) }()

	signer, err := h.verify(ctx, authHeader, bucketAddress)
	if err != nil {
		return nil, err
	}

	run := &batchRun{h: h, ctx: ctx, bucket: bucketAddress, signer: signer}

	results, err := run.exec(root)
	if err != nil {
		return nil, err
	}

	run.h.Driver.AddTaskToQueue(driver.TaskMessage{FileLogs: run.fileLogs})
	return results, nil
}

func (r *batchRun) recordFileLog(rec driver.FileLogRecord) {
	r.mu.Lock()
	r.fileLogs = append(r.fileLogs, rec)
	r.mu.Unlock()
}

// exec walks one node, returning leaf results in order. A non-nil error
// here is always fatal (propagated from the top-level verify only; leaf
// errors are captured into LeafResult.Error instead).
func (r *batchRun) exec(node PerformNode) ([]LeafResult, error) {
	if node.isLeaf() {
		return []LeafResult{r.execLeaf(node)}, nil
	}

	if node.IsSequential {
		var out []LeafResult
		for _, child := range node.Values {
			res, err := r.exec(child)
			if err != nil {
				return nil, err
			}
			out = append(out, res...)
			if anyFailed(res) {
				break
			}
		}
		return out, nil
	}

	// Non-sequential: execute children in windows of up to parallelFanOut,
	// preserving per-window order and concatenating across windows.
	var out []LeafResult
	for start := 0; start < len(node.Values); start += parallelFanOut {
		end := start + parallelFanOut
		if end > len(node.Values) {
			end = len(node.Values)
		}
		window := node.Values[start:end]
		windowResults := make([][]LeafResult, len(window))

		g, _ := errgroup.WithContext(r.ctx)
		for i, child := range window {
			i, child := i, child
			g.Go(func() error {
				res, err := r.exec(child)
				if err != nil {
					return err
				}
				windowResults[i] = res
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		for _, res := range windowResults {
			out = append(out, res...)
		}
	}
	return out, nil
}

func anyFailed(results []LeafResult) bool {
	for _, r := range results {
		if !r.Success {
			return true
		}
	}
	return false
}

func (r *batchRun) execLeaf(node PerformNode) LeafResult {
	if node.ID == "" {
		node.ID = leafID()
	}
	res, err := r.dispatchLeaf(node)
	r.h.metrics.observeLeaf(node.Type, err == nil)
	if err != nil {
		return LeafResult{ID: node.ID, Success: false, Error: truncateErr(err)}
	}
	res.ID = node.ID
	res.Success = true
	return res
}

// leafID mints a correlation ID for a leaf that arrived without one, so a
// caller can still match it up in the returned []LeafResult.
func leafID() string {
	id, err := shortid.Generate()
	if err != nil {
		return ""
	}
	return id
}

func (r *batchRun) dispatchLeaf(node PerformNode) (LeafResult, error) {
	switch node.Type {
	case leafTypePut:
		return r.doPut(node)
	case leafTypeDelete:
		return r.doDelete(node)
	default:
		return LeafResult{}, herr.InvalidInput("unknown perform-files leaf type %q", node.Type)
	}
}

func (r *batchRun) doPut(node PerformNode) (LeafResult, error) {
	blacklisted, err := r.h.blCache.IsBlacklisted(r.ctx, r.bucket, driver.PerformPut)
	if err != nil {
		return LeafResult{}, err
	}
	if blacklisted {
		return LeafResult{}, herr.NotEnoughProof("bucket %s is blacklisted", r.bucket)
	}

	if err := r.h.checkAssociationBlacklist(r.ctx, r.signer, driver.PerformPut); err != nil {
		return LeafResult{}, err
	}

	if err := auth.CheckPathSanity(node.Path); err != nil {
		return LeafResult{}, err
	}
	if !r.signer.Scopes.AllowsWrite(node.Path) {
		return LeafResult{}, herr.Validation("path %q is not within the write scope", node.Path)
	}
	if r.signer.Scopes.IsArchivalRestricted() {
		if !r.signer.Scopes.AllowsWriteArchival(node.Path) {
			return LeafResult{}, herr.Validation("path %q is not within the archival write scope", node.Path)
		}
	}

	body, contentType, err := coerceLeafContent(node.Content, node.ContentType)
	if err != nil {
		return LeafResult{}, err
	}
	if int64(len(body)) > r.h.Config.MaxFileUploadSize {
		return LeafResult{}, herr.PayloadTooLarge("leaf %s content exceeds maximum %d", node.ID, r.h.Config.MaxFileUploadSize)
	}

	if r.signer.Scopes.IsArchivalRestricted() {
		renameLogs, err := renameToHistoryIfExists(r.ctx, r.h.Driver, r.bucket, node.Path, r.signer.AssoIssAddress)
		if err != nil {
			return LeafResult{}, herr.AsHubError(err)
		}
		for _, log := range renameLogs {
			r.recordFileLog(log)
		}
	}

	result, err := r.h.Driver.PerformWrite(r.ctx, driver.WriteInput{
		StorageTopLevel: r.bucket,
		Path:            node.Path,
		Content:         strings.NewReader(string(body)),
		ContentType:     contentType,
		AssoIssAddress:  r.signer.AssoIssAddress,
	})
	if err != nil {
		return LeafResult{}, herr.AsHubError(err)
	}

	r.recordFileLog(result.FileLog)

	publicURL := rewritePublicURL(result.PublicURL, r.h.Driver.GetReadURLPrefix(), r.h.Config.ReadURL)
	return LeafResult{PublicURL: publicURL, ETag: result.ETag}, nil
}

func (r *batchRun) doDelete(node PerformNode) (LeafResult, error) {
	blacklisted, err := r.h.blCache.IsBlacklisted(r.ctx, r.bucket, driver.PerformDelete)
	if err != nil {
		return LeafResult{}, err
	}
	if blacklisted {
		return LeafResult{}, herr.NotEnoughProof("bucket %s is blacklisted", r.bucket)
	}

	if err := r.h.checkAssociationBlacklist(r.ctx, r.signer, driver.PerformDelete); err != nil {
		return LeafResult{}, err
	}

	if err := auth.CheckPathSanity(node.Path); err != nil {
		return LeafResult{}, err
	}
	if !r.signer.Scopes.AllowsDelete(node.Path) {
		return LeafResult{}, herr.Validation("path %q is not within the delete scope", node.Path)
	}
	if r.signer.Scopes.IsArchivalRestricted() {
		if !r.signer.Scopes.AllowsWriteArchival(node.Path) {
			return LeafResult{}, herr.Validation("path %q is not within the archival write scope", node.Path)
		}
	}

	if r.signer.Scopes.IsArchivalRestricted() {
		renameLogs, err := renameToHistoryIfExists(r.ctx, r.h.Driver, r.bucket, node.Path, r.signer.AssoIssAddress)
		if err != nil {
			return LeafResult{}, herr.AsHubError(err)
		}
		for _, log := range renameLogs {
			r.recordFileLog(log)
		}
	} else {
		log, err := r.h.Driver.PerformDelete(r.ctx, driver.DeleteInput{
			StorageTopLevel: r.bucket,
			Path:            node.Path,
			AssoIssAddress:  r.signer.AssoIssAddress,
		})
		if err != nil {
			if node.DoIgnoreDoesNotExistError && errors.Is(err, driver.ErrNotFound) {
				return LeafResult{}, nil
			}
			return LeafResult{}, herr.AsHubError(err)
		}
		r.recordFileLog(log)
	}

	return LeafResult{}, nil
}

// coerceLeafContent implements spec.md §4.12's PUT content coercion:
// strings keep contentType || "text/plain"; objects are JSON-stringified
// with contentType || "application/json"; anything else is invalid.
func coerceLeafContent(raw jsoniter.RawMessage, contentType string) ([]byte, string, error) {
	if len(raw) == 0 {
		return nil, "", herr.InvalidInput("leaf content is required")
	}
	var asString string
	if err := jsoniter.Unmarshal(raw, &asString); err == nil {
		if contentType == "" {
			contentType = "text/plain"
		}
		return []byte(asString), contentType, nil
	}
	var asObject map[string]interface{}
	if err := jsoniter.Unmarshal(raw, &asObject); err == nil {
		if contentType == "" {
			contentType = "application/json"
		}
		return raw, contentType, nil
	}
	var asArray []interface{}
	if err := jsoniter.Unmarshal(raw, &asArray); err == nil {
		if contentType == "" {
			contentType = "application/json"
		}
		return raw, contentType, nil
	}
	return nil, "", herr.InvalidInput("leaf content must be a string or a JSON object/array")
}

func truncateErr(err error) string {
	msg := err.Error()
	if len(msg) > maxLeafErrorLen {
		return msg[:maxLeafErrorLen]
	}
	return msg
}
