// Package memdriver is the hub's reference Driver implementation: it
// satisfies driver.Driver entirely over process memory, backed by an
// embedded tidwall/buntdb instance for the small structured records
// (object metadata, revocation floors, blacklist entries) and a plain
// mutex-guarded map for blob bytes. It is the default driver (used by the
// test suite and by `cmd/hubnode` when no cloud backend is configured),
// grounded on the mutex-protected-maps idiom of ais/backend/ais.go's
// AISBackendProvider.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package memdriver

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/tidwall/buntdb"

	"github.com/blockvault/hub/driver"
)

const (
	objPrefix = "obj:"
	revPrefix = "rev:"
	blPrefix  = "bl:"
)

type blob struct {
	content     []byte
	contentType string
	generation  int64
	lastMod     int64
}

type objRecord struct {
	ContentType      string `json:"contentType"`
	ContentLength    int64  `json:"contentLength"`
	Generation       int64  `json:"generation"`
	LastModifiedDate int64  `json:"lastModifiedDate"`
	ETag             string `json:"etag"`
}

// MemDriver implements driver.Driver over process memory.
type MemDriver struct {
	readURLPrefix string

	mu    sync.RWMutex
	blobs map[string]*blob
	db    *buntdb.DB

	tasksMu sync.Mutex
	tasks   []driver.TaskMessage
}

var _ driver.Driver = (*MemDriver)(nil)

// New returns a MemDriver whose public URLs are synthesized as
// readURLPrefix + key.
func New(readURLPrefix string) (*MemDriver, error) {
	db, err := buntdb.Open(":memory:")
	if err != nil {
		return nil, errors.Wrap(err, "memdriver: open buntdb")
	}
	return &MemDriver{
		readURLPrefix: strings.TrimSuffix(readURLPrefix, "/"),
		blobs:         make(map[string]*blob),
		db:            db,
	}, nil
}

func (m *MemDriver) EnsureInitialized(context.Context) error { return nil }

func (m *MemDriver) GetReadURLPrefix() string { return m.readURLPrefix }

func key(storageTopLevel, path string) string {
	return storageTopLevel + "/" + path
}

func etagOf(content []byte) string {
	sum := md5.Sum(content)
	return "\"" + hex.EncodeToString(sum[:]) + "\""
}

func (m *MemDriver) PerformStat(_ context.Context, in driver.StatInput) (driver.ObjectMeta, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blobs[key(in.StorageTopLevel, in.Path)]
	if !ok {
		return driver.ObjectMeta{Exists: false}, nil
	}
	return driver.ObjectMeta{
		Exists:           true,
		ETag:             etagOf(b.content),
		ContentType:      b.contentType,
		ContentLength:    int64(len(b.content)),
		LastModifiedDate: b.lastMod,
		Generation:       b.generation,
	}, nil
}

func (m *MemDriver) PerformWrite(_ context.Context, in driver.WriteInput) (driver.WriteResult, error) {
	data, err := io.ReadAll(in.Content)
	if err != nil {
		return driver.WriteResult{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	k := key(in.StorageTopLevel, in.Path)
	existing, exists := m.blobs[k]

	if in.IfMatchTag != "" && in.IfMatchTag != "*" {
		if !exists {
			return driver.WriteResult{}, &driver.PreconditionError{}
		}
		if etagOf(existing.content) != in.IfMatchTag {
			return driver.WriteResult{}, &driver.PreconditionError{CurrentETag: etagOf(existing.content)}
		}
	}
	if in.IfNoneMatchTag == "*" && exists {
		return driver.WriteResult{}, &driver.PreconditionError{CurrentETag: etagOf(existing.content)}
	}

	var oldSize int64
	var generation int64 = 1
	if exists {
		oldSize = int64(len(existing.content))
		generation = existing.generation + 1
	}

	nb := &blob{content: data, contentType: in.ContentType, generation: generation, lastMod: time.Now().Unix()}
	m.blobs[k] = nb

	if err := m.putObjRecord(k, nb); err != nil {
		return driver.WriteResult{}, err
	}

	action := driver.FileLogCreate
	if exists {
		action = driver.FileLogUpdate
	}
	fileLog := driver.FileLogRecord{
		Path: k, AssoIssAddress: in.AssoIssAddress, Action: action,
		Size: int64(len(data)), SizeChange: int64(len(data)) - oldSize, CreateDT: time.Now().Unix(),
	}

	return driver.WriteResult{
		PublicURL:  m.readURLPrefix + "/" + k,
		ETag:       etagOf(data),
		SizeChange: int64(len(data)) - oldSize,
		FileLog:    fileLog,
	}, nil
}

// PerformDelete returns the DELETE record the caller must enqueue; it does
// not enqueue it itself (the caller is the sole owner of AddTaskToQueue).
func (m *MemDriver) PerformDelete(_ context.Context, in driver.DeleteInput) (driver.FileLogRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key(in.StorageTopLevel, in.Path)
	existing, exists := m.blobs[k]
	if !exists {
		return driver.FileLogRecord{}, driver.ErrNotFound
	}
	if in.IfMatchTag != "" && in.IfMatchTag != "*" && etagOf(existing.content) != in.IfMatchTag {
		return driver.FileLogRecord{}, &driver.PreconditionError{CurrentETag: etagOf(existing.content)}
	}

	delete(m.blobs, k)
	_ = m.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(objPrefix + k)
		if err != nil && err != buntdb.ErrNotFound {
			return err
		}
		return nil
	})

	return driver.FileLogRecord{
		Path: k, AssoIssAddress: in.AssoIssAddress, Action: driver.FileLogDelete,
		Size: 0, SizeChange: -int64(len(existing.content)), CreateDT: time.Now().Unix(),
	}, nil
}

// PerformRename returns the DELETE-old+CREATE-new pair the caller must
// enqueue; it does not enqueue them itself.
func (m *MemDriver) PerformRename(_ context.Context, in driver.RenameInput) ([]driver.FileLogRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key(in.StorageTopLevel, in.Path)
	newK := key(in.StorageTopLevel, in.NewPath)

	existing, exists := m.blobs[k]
	if !exists {
		return nil, driver.ErrNotFound
	}
	if in.IfMatchTag != "" && in.IfMatchTag != "*" && etagOf(existing.content) != in.IfMatchTag {
		return nil, &driver.PreconditionError{CurrentETag: etagOf(existing.content)}
	}

	nb := &blob{content: existing.content, contentType: existing.contentType, generation: 1, lastMod: time.Now().Unix()}
	if old, ok := m.blobs[newK]; ok {
		nb.generation = old.generation + 1
	}
	m.blobs[newK] = nb
	delete(m.blobs, k)
	if err := m.putObjRecord(newK, nb); err != nil {
		return nil, err
	}
	_ = m.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(objPrefix + k)
		if err != nil && err != buntdb.ErrNotFound {
			return err
		}
		return nil
	})

	now := time.Now().Unix()
	return []driver.FileLogRecord{
		{Path: k, AssoIssAddress: in.AssoIssAddress, Action: driver.FileLogDelete, CreateDT: now},
		{Path: newK, AssoIssAddress: in.AssoIssAddress, Action: driver.FileLogCreate, Size: int64(len(nb.content)), SizeChange: int64(len(nb.content)), CreateDT: now},
	}, nil
}

func (m *MemDriver) putObjRecord(k string, b *blob) error {
	rec := objRecord{
		ContentType: b.contentType, ContentLength: int64(len(b.content)),
		Generation: b.generation, LastModifiedDate: b.lastMod, ETag: etagOf(b.content),
	}
	buf, err := jsoniter.Marshal(rec)
	if err != nil {
		return err
	}
	return m.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(objPrefix+k, string(buf), nil)
		return err
	})
}

func (m *MemDriver) ListFiles(ctx context.Context, in driver.ListInput) (driver.ListResult, error) {
	return m.list(ctx, in, false)
}

func (m *MemDriver) ListFilesStat(ctx context.Context, in driver.ListInput) (driver.ListResult, error) {
	return m.list(ctx, in, true)
}

func (m *MemDriver) list(_ context.Context, in driver.ListInput, withStat bool) (driver.ListResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for k := range m.blobs {
		if strings.HasPrefix(k, in.PathPrefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start := 0
	if in.Page != "" {
		idx := sort.SearchStrings(keys, in.Page)
		if idx < len(keys) && keys[idx] == in.Page {
			idx++
		}
		start = idx
	}

	pageSize := in.PageSize
	if pageSize <= 0 {
		pageSize = len(keys)
	}

	end := start + pageSize
	if end > len(keys) {
		end = len(keys)
	}

	result := driver.ListResult{}
	for _, k := range keys[start:end] {
		name := strings.TrimPrefix(k, in.PathPrefix)
		entry := driver.ListEntry{Name: name}
		if withStat {
			b := m.blobs[k]
			meta := driver.ObjectMeta{
				Exists: true, ETag: etagOf(b.content), ContentType: b.contentType,
				ContentLength: int64(len(b.content)), LastModifiedDate: b.lastMod, Generation: b.generation,
			}
			entry.Meta = &meta
		}
		result.Entries = append(result.Entries, entry)
	}
	if end < len(keys) {
		result.Page = keys[end-1]
	}
	return result, nil
}

func (m *MemDriver) PerformReadAuthTimestamp(_ context.Context, bucketAddress string) (driver.RevocationRecord, error) {
	var rec driver.RevocationRecord
	err := m.db.View(func(tx *buntdb.Tx) error {
		val, err := tx.Get(revPrefix + bucketAddress)
		if err == buntdb.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return jsoniter.Unmarshal([]byte(val), &rec)
	})
	return rec, err
}

// PerformWriteAuthTimestamp upserts the revocation floor under a max-wins
// rule: the new timestamp only replaces the existing one if it is strictly
// greater, and the original createDate is preserved (spec.md §4.3).
func (m *MemDriver) PerformWriteAuthTimestamp(_ context.Context, bucketAddress string, timestamp int64) (driver.RevocationRecord, error) {
	var result driver.RevocationRecord
	err := m.db.Update(func(tx *buntdb.Tx) error {
		now := time.Now().Unix()
		var existing driver.RevocationRecord
		val, err := tx.Get(revPrefix + bucketAddress)
		hadExisting := err == nil
		if err != nil && err != buntdb.ErrNotFound {
			return err
		}
		if hadExisting {
			if err := jsoniter.Unmarshal([]byte(val), &existing); err != nil {
				return err
			}
		}
		if hadExisting && timestamp <= existing.Timestamp {
			result = existing
			return nil
		}
		result = driver.RevocationRecord{Timestamp: timestamp, UpdateDate: now}
		if hadExisting {
			result.CreateDate = existing.CreateDate
		} else {
			result.CreateDate = now
		}
		buf, err := jsoniter.Marshal(result)
		if err != nil {
			return err
		}
		_, _, err = tx.Set(revPrefix+bucketAddress, string(buf), nil)
		return err
	})
	return result, err
}

func (m *MemDriver) PerformReadBlacklistType(_ context.Context, address string) (int, error) {
	var t int
	err := m.db.View(func(tx *buntdb.Tx) error {
		val, err := tx.Get(blPrefix + address)
		if err == buntdb.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		_, scanErr := fmt.Sscanf(val, "%d", &t)
		return scanErr
	})
	return t, err
}

// SetBlacklistType is a test/ops helper — blacklist records are externally
// managed and only read by the hub pipeline itself (spec.md §3).
func (m *MemDriver) SetBlacklistType(address string, t int) error {
	return m.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(blPrefix+address, fmt.Sprintf("%d", t), nil)
		return err
	})
}

func (m *MemDriver) AddTaskToQueue(msg driver.TaskMessage) {
	m.tasksMu.Lock()
	defer m.tasksMu.Unlock()
	m.tasks = append(m.tasks, msg)
}

// Tasks returns the messages enqueued so far, for test assertions.
func (m *MemDriver) Tasks() []driver.TaskMessage {
	m.tasksMu.Lock()
	defer m.tasksMu.Unlock()
	out := make([]driver.TaskMessage, len(m.tasks))
	copy(out, m.tasks)
	return out
}

