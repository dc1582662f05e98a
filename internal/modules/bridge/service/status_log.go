package service

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"signal_bridge/internal/models"
)

// StatusLog appends handled events to a JSON-lines file, one compact object
// per line. It is kept apart from the ledger for replay and debugging.
type StatusLog struct {
	fs   afero.Fs
	path string
	mu   sync.Mutex
}

func NewStatusLog(fs afero.Fs, path string) *StatusLog {
	return &StatusLog{fs: fs, path: path}
}

func (l *StatusLog) Append(evt *models.StatusEvent) error {
	line, err := EncodeStatusLine(evt)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if dir := filepath.Dir(l.path); dir != "." {
		if err := l.fs.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "create status log dir %s", dir)
		}
	}
	f, err := l.fs.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrapf(err, "open status log %s", l.path)
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "append status log %s", l.path)
	}
	return errors.Wrapf(f.Close(), "close status log %s", l.path)
}

// WithStatusLog runs next and then appends the event to log. A failed append
// fails the handler so the artifact is retried; next must therefore tolerate
// seeing the artifact twice and answer ErrAlreadyHandled, which is passed on
// without a second line.
func WithStatusLog(next Handler, log *StatusLog) Handler {
	return HandlerFunc(func(ctx context.Context, artifact string, evt *models.StatusEvent) error {
		if err := next.HandleStatus(ctx, artifact, evt); err != nil {
			return err
		}
		return log.Append(evt)
	})
}
