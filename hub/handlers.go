package hub

import (
	"context"
	"io"
	"strconv"
	"time"

	"github.com/blockvault/hub/auth"
	"github.com/blockvault/hub/driver"
	"github.com/blockvault/hub/herr"
)

const maxHeaderContentTypeLen = 1024

// WriteRequest is the transport-agnostic input to HandleWrite, spec.md §4.8
// / §6's `POST /store/:address/:path`.
type WriteRequest struct {
	AuthHeader    string
	BucketAddress string
	Path          string
	Content       io.Reader
	ContentType   string
	ContentLength int64 // <=0 means unknown
	IfMatch       string
	IfNoneMatch   string
}

// WriteResponse mirrors spec.md §6's `{publicURL, etag}` success body.
type WriteResponse struct {
	PublicURL string `json:"publicURL"`
	ETag      string `json:"etag"`
}

// HandleWrite implements spec.md §4.8, the write handler.
func (h *Hub) HandleWrite(ctx context.Context, req WriteRequest) (_ WriteResponse, err error) {
	start := time.Now()
	defer func() { h.metrics.observe("write", start, err) }()

	blacklisted, err := h.blCache.IsBlacklisted(ctx, req.BucketAddress, driver.PerformPut)
	if err != nil {
		return WriteResponse{}, err
	}
	if blacklisted {
		return WriteResponse{}, herr.NotEnoughProof("bucket %s is blacklisted", req.BucketAddress)
	}

	signer, err := h.verify(ctx, req.AuthHeader, req.BucketAddress)
	if err != nil {
		return WriteResponse{}, err
	}

	if err := h.checkAssociationBlacklist(ctx, signer, driver.PerformPut); err != nil {
		return WriteResponse{}, err
	}

	if err := auth.CheckPathSanity(req.Path); err != nil {
		return WriteResponse{}, err
	}
	if !signer.Scopes.AllowsWrite(req.Path) {
		return WriteResponse{}, herr.Validation("path %q is not within the write scope", req.Path)
	}
	if signer.Scopes.IsArchivalRestricted() {
		if !signer.Scopes.AllowsWriteArchival(req.Path) {
			return WriteResponse{}, herr.Validation("path %q is not within the archival write scope", req.Path)
		}
	}

	if req.IfMatch != "" && req.IfNoneMatch != "" {
		return WriteResponse{}, herr.Validation("cannot set both If-Match and If-None-Match")
	}
	if req.IfNoneMatch != "" && req.IfNoneMatch != "*" {
		return WriteResponse{}, herr.Validation("If-None-Match only supports \"*\"")
	}

	contentType := req.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if len(contentType) > maxHeaderContentTypeLen {
		return WriteResponse{}, herr.Validation("Content-Type header too long")
	}

	if req.ContentLength > 0 && req.ContentLength > h.Config.MaxFileUploadSize {
		return WriteResponse{}, herr.PayloadTooLarge("content-length %d exceeds maximum %d", req.ContentLength, h.Config.MaxFileUploadSize)
	}

	key := req.BucketAddress + "/" + req.Path
	release, ok := h.scope.tryAcquire(key)
	if !ok {
		return WriteResponse{}, herr.Conflict("a mutation is already in progress for %s", key)
	}
	defer release()

	var tasks driver.TaskMessage
	if signer.Scopes.IsArchivalRestricted() {
		renameLogs, err := renameToHistoryIfExists(ctx, h.Driver, req.BucketAddress, req.Path, signer.AssoIssAddress)
		if err != nil {
			return WriteResponse{}, herr.AsHubError(err)
		}
		tasks.FileLogs = append(tasks.FileLogs, renameLogs...)
	}

	uploadLimit := uploadCap(req.ContentLength, h.Config.MaxFileUploadSize)
	metered := newMeteredReader(req.Content, uploadLimit)

	result, err := h.Driver.PerformWrite(ctx, driver.WriteInput{
		StorageTopLevel: req.BucketAddress,
		Path:            req.Path,
		Content:         metered,
		ContentType:     contentType,
		IfMatchTag:      req.IfMatch,
		IfNoneMatchTag:  req.IfNoneMatch,
		AssoIssAddress:  signer.AssoIssAddress,
	})
	if err != nil {
		return WriteResponse{}, herr.AsHubError(err)
	}

	if result.SizeChange > 0 {
		h.metrics.writeBytes.Add(float64(result.SizeChange))
	}
	publicURL := rewritePublicURL(result.PublicURL, h.Driver.GetReadURLPrefix(), h.Config.ReadURL)

	tasks.FileLogs = append(tasks.FileLogs, result.FileLog)
	h.Driver.AddTaskToQueue(tasks)

	return WriteResponse{PublicURL: publicURL, ETag: result.ETag}, nil
}

// DeleteRequest is the transport-agnostic input to HandleDelete, spec.md §4.9.
type DeleteRequest struct {
	AuthHeader    string
	BucketAddress string
	Path          string
	IfMatch       string
	IfNoneMatch   string
}

// HandleDelete implements spec.md §4.9.
func (h *Hub) HandleDelete(ctx context.Context, req DeleteRequest) (err error) {
	start := time.Now()
	defer func() { h.metrics.observe("delete", start, err) }()

	blacklisted, err := h.blCache.IsBlacklisted(ctx, req.BucketAddress, driver.PerformDelete)
	if err != nil {
		return err
	}
	if blacklisted {
		return herr.NotEnoughProof("bucket %s is blacklisted", req.BucketAddress)
	}

	signer, err := h.verify(ctx, req.AuthHeader, req.BucketAddress)
	if err != nil {
		return err
	}

	if err := h.checkAssociationBlacklist(ctx, signer, driver.PerformDelete); err != nil {
		return err
	}

	if err := auth.CheckPathSanity(req.Path); err != nil {
		return err
	}
	if !signer.Scopes.AllowsDelete(req.Path) {
		return herr.Validation("path %q is not within the delete scope", req.Path)
	}
	if signer.Scopes.IsArchivalRestricted() {
		if !signer.Scopes.AllowsWriteArchival(req.Path) {
			return herr.Validation("path %q is not within the archival write scope", req.Path)
		}
	}
	if req.IfNoneMatch != "" {
		return herr.Validation("If-None-Match is not supported on delete")
	}

	key := req.BucketAddress + "/" + req.Path
	release, ok := h.scope.tryAcquire(key)
	if !ok {
		return herr.Conflict("a mutation is already in progress for %s", key)
	}
	defer release()

	var fileLogs []driver.FileLogRecord
	if signer.Scopes.IsArchivalRestricted() {
		logs, err := renameToHistoryIfExists(ctx, h.Driver, req.BucketAddress, req.Path, signer.AssoIssAddress)
		if err != nil {
			return herr.AsHubError(err)
		}
		fileLogs = logs
	} else {
		log, err := h.Driver.PerformDelete(ctx, driver.DeleteInput{
			StorageTopLevel: req.BucketAddress,
			Path:            req.Path,
			IfMatchTag:      req.IfMatch,
			AssoIssAddress:  signer.AssoIssAddress,
		})
		if err != nil {
			return herr.AsHubError(err)
		}
		fileLogs = []driver.FileLogRecord{log}
	}

	h.Driver.AddTaskToQueue(driver.TaskMessage{FileLogs: fileLogs})
	return nil
}

// ListRequest is the transport-agnostic input to HandleListFiles, spec.md §4.10.
type ListRequest struct {
	AuthHeader    string
	BucketAddress string
	Page          string
	PageSize      int
	Stat          bool
}

// ListResponse mirrors spec.md §6's `{entries, page}` body.
type ListResponse struct {
	Entries []interface{} `json:"entries"`
	Page    string        `json:"page,omitempty"`
}

// HandleListFiles implements spec.md §4.10: token verification only, no
// scope check; archival-restricted scopes filter out `.history.` entries.
func (h *Hub) HandleListFiles(ctx context.Context, req ListRequest) (ListResponse, error) {
	signer, err := h.verify(ctx, req.AuthHeader, req.BucketAddress)
	if err != nil {
		return ListResponse{}, err
	}

	pageSize := req.PageSize
	if pageSize <= 0 || pageSize > h.Config.PageSize {
		pageSize = h.Config.PageSize
	}

	in := driver.ListInput{
		PathPrefix: req.BucketAddress + "/",
		Page:       req.Page,
		PageSize:   pageSize,
	}

	var (
		result driver.ListResult
		lerr   error
	)
	if req.Stat {
		result, lerr = h.Driver.ListFilesStat(ctx, in)
	} else {
		result, lerr = h.Driver.ListFiles(ctx, in)
	}
	if lerr != nil {
		return ListResponse{}, herr.AsHubError(lerr)
	}

	entries := make([]interface{}, 0, len(result.Entries))
	for _, e := range result.Entries {
		if signer.Scopes.IsArchivalRestricted() && isHistoryEntry(e.Name) {
			continue
		}
		if req.Stat {
			entries = append(entries, statEntryJSON{Name: e.Name, Meta: e.Meta})
		} else {
			entries = append(entries, e.Name)
		}
	}
	if len(entries) == 0 && result.Page != "" {
		entries = append(entries, nil)
	}

	return ListResponse{Entries: entries, Page: result.Page}, nil
}

type statEntryJSON struct {
	Name string             `json:"name"`
	Meta *driver.ObjectMeta `json:"metadata,omitempty"`
}

// RevokeRequest is the transport-agnostic input to HandleAuthBump.
type RevokeRequest struct {
	AuthHeader           string
	BucketAddress        string
	OldestValidTimestamp int64
}

// HandleAuthBump implements spec.md §4.11, the revoke-all handler.
func (h *Hub) HandleAuthBump(ctx context.Context, req RevokeRequest) error {
	_, err := h.verifyNoFloor(req.AuthHeader, req.BucketAddress)
	if err != nil {
		return err
	}
	return h.revCache.SetAuthTimestamp(ctx, req.BucketAddress, req.OldestValidTimestamp)
}

// checkAssociationBlacklist implements spec.md §4.8 step 2 / §9: when
// EnableAssociationBlacklistCheck is on and the request carries an
// association token, the delegating issuer's address is also subject to
// the blacklist, not just the bucket address.
func (h *Hub) checkAssociationBlacklist(ctx context.Context, signer auth.EffectiveSigner, pt driver.PerformType) error {
	if !h.Config.EnableAssociationBlacklistCheck || signer.AssoIssAddress == "" {
		return nil
	}
	blacklisted, err := h.blCache.IsBlacklisted(ctx, signer.AssoIssAddress, pt)
	if err != nil {
		return err
	}
	if blacklisted {
		return herr.NotEnoughProof("association issuer %s is blacklisted", signer.AssoIssAddress)
	}
	return nil
}

// rewritePublicURL implements spec.md §4.8 step 9: rewrite the driver's
// internal read-URL prefix to the configured public readURL, when set and
// when the returned URL actually starts with the driver's prefix.
func rewritePublicURL(publicURL, driverPrefix, configuredReadURL string) string {
	if configuredReadURL == "" || driverPrefix == "" {
		return publicURL
	}
	if len(publicURL) >= len(driverPrefix) && publicURL[:len(driverPrefix)] == driverPrefix {
		return configuredReadURL + publicURL[len(driverPrefix):]
	}
	return publicURL
}

// parseContentLength parses the Content-Length header, returning <=0 when
// absent or not a finite positive integer (spec.md §4.8 step 6).
func parseContentLength(s string) int64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}
