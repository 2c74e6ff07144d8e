// Package softexit turns SIGTERM/SIGINT and the appearance of an EXIT file
// into soft-exit requests. A second signal cancels the run outright.
package softexit

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// FileName is the file whose creation in the watched directory requests a
// soft exit.
const FileName = "EXIT"

// Stopper is anything that can be asked to stop after its current step.
type Stopper interface {
	RequestStop()
}

type Watcher struct {
	target  Stopper
	cancel  context.CancelFunc
	exit    string
	fs      *fsnotify.Watcher
	signals chan os.Signal
	stopCh  chan struct{}
	done    chan struct{}

	mu       sync.Mutex
	requests int
	closed   bool

	log *logrus.Entry
}

// Watch starts watching dir for the EXIT file and the process for
// termination signals. The returned context is cancelled on the second
// request or when the parent is.
func Watch(ctx context.Context, dir string, target Stopper) (context.Context, *Watcher, error) {
	if dir == "" {
		dir = "."
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		target:  target,
		cancel:  cancel,
		exit:    filepath.Join(dir, FileName),
		fs:      fsw,
		signals: make(chan os.Signal, 2),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
		log:     logrus.WithField("watch", dir),
	}
	signal.Notify(w.signals, syscall.SIGTERM, os.Interrupt)

	if _, err := os.Stat(w.exit); err == nil {
		w.log.Warn("EXIT file already present")
		w.request("exit file")
	}

	go w.loop()
	return ctx, w, nil
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case <-w.stopCh:
			return
		case sig := <-w.signals:
			w.request(sig.String())
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Create) && filepath.Clean(ev.Name) == filepath.Clean(w.exit) {
				w.request("exit file")
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Warn("file watcher error")
		}
	}
}

// request escalates: the first call asks for a soft exit, later calls
// cancel the context.
func (w *Watcher) request(reason string) {
	w.mu.Lock()
	w.requests++
	n := w.requests
	w.mu.Unlock()

	if n == 1 {
		w.log.WithField("reason", reason).Info("soft exit requested")
		w.target.RequestStop()
		return
	}
	w.log.WithField("reason", reason).Warn("second stop request, cancelling")
	w.cancel()
}

// Requests reports how many stop requests have been seen.
func (w *Watcher) Requests() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.requests
}

// Close stops watching and releases the signal handlers. It is safe to call
// more than once.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	signal.Stop(w.signals)
	close(w.stopCh)
	err := w.fs.Close()
	<-w.done
	w.cancel()
	return err
}
