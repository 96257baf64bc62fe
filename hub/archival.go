package hub

import (
	"context"
	"errors"
	"math/rand"
	"path"
	"strings"
	"time"

	"github.com/blockvault/hub/driver"
)

const base62Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// historicalName builds the archival rename target for p, spec.md §3/§8:
// "historical name of <dir>/<b> begins with <dir>.history. and ends with
// <b>" -- e.g. "photos/x.jpg" becomes "photos/.history.<ts>.<rand>.x.jpg".
func historicalName(p string) string {
	dir, base := path.Split(p)
	var sb strings.Builder
	sb.WriteString(dir)
	sb.WriteString(".history.")
	sb.WriteString(nowMillis())
	sb.WriteByte('.')
	sb.WriteString(randomBase62(10))
	sb.WriteByte('.')
	sb.WriteString(base)
	return sb.String()
}

func nowMillis() string {
	return itoa64(time.Now().UnixMilli())
}

func itoa64(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func randomBase62(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = base62Alphabet[rand.Intn(len(base62Alphabet))]
	}
	return string(b)
}

// isHistoryEntry reports whether name's basename starts with ".history."
// (spec.md §4.10's list-filter and §8's testable property).
func isHistoryEntry(name string) bool {
	return strings.HasPrefix(path.Base(name), ".history.")
}

// renameToHistoryIfExists performs spec.md §4.8 step 7 / §4.9's archival
// rename: rename the current object at path to a fresh historical name,
// swallowing doesNotExist (first-write case) while propagating any other
// error. Returns the DELETE-old+CREATE-new file-log pair for the caller to
// enqueue; nil when the rename was swallowed.
func renameToHistoryIfExists(ctx context.Context, drv driver.Driver, storageTopLevel, p, assoIssAddress string) ([]driver.FileLogRecord, error) {
	logs, err := drv.PerformRename(ctx, driver.RenameInput{
		StorageTopLevel: storageTopLevel,
		Path:            p,
		NewPath:         historicalName(p),
		AssoIssAddress:  assoIssAddress,
	})
	if err != nil && errors.Is(err, driver.ErrNotFound) {
		return nil, nil
	}
	return logs, err
}
