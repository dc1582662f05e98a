package service

import (
	"errors"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

var errInjected = errors.New("injected failure")

// faultyFs fails selected operations of the wrapped filesystem.
type faultyFs struct {
	afero.Fs

	mu         sync.Mutex
	failRename func(oldname, newname string) bool
	failOpen   func(name string) bool
}

func (f *faultyFs) setRename(fn func(oldname, newname string) bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failRename = fn
}

func (f *faultyFs) setOpen(fn func(name string) bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failOpen = fn
}

func (f *faultyFs) Rename(oldname, newname string) error {
	f.mu.Lock()
	fail := f.failRename != nil && f.failRename(oldname, newname)
	f.mu.Unlock()
	if fail {
		return &os.LinkError{Op: "rename", Old: oldname, New: newname, Err: errInjected}
	}
	return f.Fs.Rename(oldname, newname)
}

func (f *faultyFs) Open(name string) (afero.File, error) {
	f.mu.Lock()
	fail := f.failOpen != nil && f.failOpen(name)
	f.mu.Unlock()
	if fail {
		return nil, &os.PathError{Op: "open", Path: name, Err: errInjected}
	}
	return f.Fs.Open(name)
}

// fakeClock only moves when Advance is called.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 9, 30, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTicker{ch: make(chan time.Time, 1), every: d, next: c.now.Add(d)}
	c.tickers = append(c.tickers, t)
	return t
}

// Advance moves time forward and fires every ticker that came due. Ticks
// are dropped when the receiver is behind, like time.Ticker.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	for _, t := range c.tickers {
		if t.stopped.Load() {
			continue
		}
		for !t.next.After(c.now) {
			select {
			case t.ch <- t.next:
			default:
			}
			t.next = t.next.Add(t.every)
		}
	}
}

func (c *fakeClock) tickerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tickers)
}

type fakeTicker struct {
	ch      chan time.Time
	every   time.Duration
	next    time.Time
	stopped atomic.Bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }
func (t *fakeTicker) Stop()               { t.stopped.Store(true) }

func listDir(t *testing.T, fs afero.Fs, dir string) []string {
	t.Helper()
	infos, err := afero.ReadDir(fs, dir)
	require.NoError(t, err)
	var names []string
	for _, fi := range infos {
		if !fi.IsDir() {
			names = append(names, fi.Name())
		}
	}
	sort.Strings(names)
	return names
}

func countSuffix(names []string, suffix string) int {
	n := 0
	for _, name := range names {
		if strings.HasSuffix(name, suffix) {
			n++
		}
	}
	return n
}
