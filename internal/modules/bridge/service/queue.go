package service

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"signal_bridge/pkg/logger"
)

const (
	artifactPrefix   = "CMD_"
	artifactExt      = ".json"
	tmpExt           = ".tmp"
	quarantinePrefix = "CORRUPT_"
)

// ArtifactName is the outbound file name for a command id.
func ArtifactName(id string) string { return artifactPrefix + id + artifactExt }

// Outbox is the producer end of the directory queue.
type Outbox interface {
	// Enqueue makes data visible under name in one atomic step and returns
	// the final path. Nothing is visible under name on error.
	Enqueue(ctx context.Context, name string, data []byte) (string, error)
}

// Inbox is the consumer end. Only one consumer may own an inbox.
type Inbox interface {
	List(ctx context.Context) ([]string, error)
	Read(ctx context.Context, name string) ([]byte, error)
	// Ack moves a handled artifact to the processed archive.
	Ack(ctx context.Context, name string) error
	// Quarantine moves an unreadable artifact aside under the CORRUPT_ prefix.
	Quarantine(ctx context.Context, name string) error
}

// DirOutbox writes artifacts into one directory with temp-then-rename.
// Concurrent writes of one name through the same DirOutbox let exactly one
// through; separate processes sharing a directory must not reuse ids.
type DirOutbox struct {
	fs  afero.Fs
	dir string

	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewDirOutbox(fs afero.Fs, dir string) (*DirOutbox, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, newError(ErrWrite, err, "create outbound dir %s", dir)
	}
	return &DirOutbox{fs: fs, dir: dir, inflight: make(map[string]struct{})}, nil
}

func (o *DirOutbox) Enqueue(_ context.Context, name string, data []byte) (string, error) {
	if !o.reserve(name) {
		return "", newError(ErrWrite, ErrArtifactExists, "%s is being written", name)
	}
	defer o.unreserve(name)

	final := filepath.Join(o.dir, name)
	if exists, err := afero.Exists(o.fs, final); err != nil {
		return "", newError(ErrWrite, err, "stat %s", final)
	} else if exists {
		return "", newError(ErrWrite, ErrArtifactExists, "%s already exists", name)
	}

	base := strings.TrimSuffix(name, artifactExt)
	tmp, err := afero.TempFile(o.fs, o.dir, base+".*"+tmpExt)
	if err != nil {
		return "", newError(ErrWrite, err, "create temp file for %s", name)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		o.cleanup(tmpName)
		return "", newError(ErrWrite, err, "write temp file %s", tmpName)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		o.cleanup(tmpName)
		return "", newError(ErrWrite, err, "sync temp file %s", tmpName)
	}
	if err := tmp.Close(); err != nil {
		o.cleanup(tmpName)
		return "", newError(ErrWrite, err, "close temp file %s", tmpName)
	}
	if err := o.fs.Rename(tmpName, final); err != nil {
		o.cleanup(tmpName)
		return "", newError(ErrWrite, err, "rename %s to %s", tmpName, final)
	}
	return final, nil
}

func (o *DirOutbox) reserve(name string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inflight[name]; busy {
		return false
	}
	o.inflight[name] = struct{}{}
	return true
}

func (o *DirOutbox) unreserve(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inflight, name)
}

func (o *DirOutbox) cleanup(tmpName string) {
	if err := o.fs.Remove(tmpName); err != nil && !os.IsNotExist(err) {
		logger.Error("remove temp file %s: %v", tmpName, err)
	}
}

// DirInbox reads artifacts from one directory. Processed and quarantine may
// be the same directory.
type DirInbox struct {
	fs         afero.Fs
	dir        string
	processed  string
	quarantine string
}

func NewDirInbox(fs afero.Fs, dir, processed, quarantine string) (*DirInbox, error) {
	if processed == "" {
		processed = filepath.Join(dir, "processed")
	}
	if quarantine == "" {
		quarantine = processed
	}
	for _, d := range []string{dir, processed, quarantine} {
		if err := fs.MkdirAll(d, 0o755); err != nil {
			return nil, newError(ErrWrite, err, "create inbound dir %s", d)
		}
	}
	return &DirInbox{fs: fs, dir: dir, processed: processed, quarantine: quarantine}, nil
}

// List returns *.json artifact names. Directories and temp files are skipped.
func (i *DirInbox) List(_ context.Context) ([]string, error) {
	infos, err := afero.ReadDir(i.fs, i.dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(infos))
	for _, fi := range infos {
		name := fi.Name()
		if fi.IsDir() || !strings.HasSuffix(name, artifactExt) || strings.HasPrefix(name, ".") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (i *DirInbox) Read(_ context.Context, name string) ([]byte, error) {
	return afero.ReadFile(i.fs, filepath.Join(i.dir, name))
}

func (i *DirInbox) Ack(_ context.Context, name string) error {
	return i.fs.Rename(filepath.Join(i.dir, name), filepath.Join(i.processed, name))
}

func (i *DirInbox) Quarantine(_ context.Context, name string) error {
	return i.fs.Rename(filepath.Join(i.dir, name), filepath.Join(i.quarantine, quarantinePrefix+name))
}
