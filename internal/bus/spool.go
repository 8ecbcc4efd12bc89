package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/maruel/ksid"
)

// DefaultSpoolTTL is how long a message file stays in the spool directory.
const DefaultSpoolTTL = 30 * time.Second

// Spool broadcasts between processes on the same device through a shared
// directory.
//
// Publishing writes one JSON file per message, atomically renamed into the
// directory. Every process watches the directory with fsnotify and decodes
// new files. Messages from the spool's own origin are ignored, as are
// duplicate events for a message already handled. Files older than the TTL
// are pruned by whichever process notices them first.
type Spool struct {
	dir     string
	origin  ksid.ID
	ttl     time.Duration
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	stopped chan struct{}

	mu       sync.Mutex
	handlers handlers
	seen     map[ksid.ID]time.Time
}

// NewSpool starts watching dir, creating it if needed. The spool stops when
// ctx is canceled or Close is called. A ttl of zero selects DefaultSpoolTTL.
func NewSpool(ctx context.Context, dir string, origin ksid.ID, ttl time.Duration) (*Spool, error) {
	if ttl <= 0 {
		ttl = DefaultSpoolTTL
	}
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // G301: shared with other processes of the same user
		return nil, fmt.Errorf("failed to create spool directory: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &Spool{
		dir:     dir,
		origin:  origin,
		ttl:     ttl,
		watcher: w,
		cancel:  cancel,
		stopped: make(chan struct{}),
		seen:    make(map[ksid.ID]time.Time),
	}
	go s.run(ctx)
	return s, nil
}

// Publish implements Bus.
func (s *Spool) Publish(msg Message) error {
	select {
	case <-s.stopped:
		return ErrClosed
	default:
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	f, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create message file: %w", err)
	}
	tmp := f.Name()
	defer func() {
		_ = os.Remove(tmp)
	}()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close message file: %w", err)
	}
	name := filepath.Join(s.dir, msg.Origin.String()+"-"+msg.ID.String()+".json")
	if err := os.Rename(tmp, name); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// Subscribe implements Bus.
func (s *Spool) Subscribe(fn func(Message)) func() {
	s.mu.Lock()
	entry := s.handlers.add(fn)
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		s.handlers.remove(entry)
		s.mu.Unlock()
	}
}

// Close stops watching and waits for the delivery goroutine to exit.
func (s *Spool) Close() error {
	s.cancel()
	<-s.stopped
	return nil
}

func (s *Spool) run(ctx context.Context) {
	defer close(s.stopped)
	defer func() { _ = s.watcher.Close() }()
	prune := time.NewTicker(s.ttl / 2)
	defer prune.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				s.receive(ctx, event.Name)
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			slog.WarnContext(ctx, "Error watching spool", "dir", s.dir, "err", err)
		case now := <-prune.C:
			s.prune(ctx, now)
		}
	}
}

func (s *Spool) receive(ctx context.Context, path string) {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
		return
	}
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the watched spool directory
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.WarnContext(ctx, "Failed to read message", "path", path, "err", err)
		}
		return
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.WarnContext(ctx, "Dropping malformed message", "path", path, "err", err)
		return
	}
	if msg.Origin == s.origin {
		return
	}
	s.mu.Lock()
	if _, dup := s.seen[msg.ID]; dup {
		s.mu.Unlock()
		return
	}
	s.seen[msg.ID] = time.Now()
	hs := s.handlers.snapshot()
	s.mu.Unlock()
	for _, h := range hs {
		h.fn(msg)
	}
}

func (s *Spool) prune(ctx context.Context, now time.Time) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		slog.WarnContext(ctx, "Failed to list spool", "dir", s.dir, "err", err)
		return
	}
	for _, e := range entries {
		info, err := e.Info()
		if err != nil || now.Sub(info.ModTime()) < s.ttl {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.DebugContext(ctx, "Failed to prune message", "name", e.Name(), "err", err)
		}
	}
	s.mu.Lock()
	for id, t := range s.seen {
		if now.Sub(t) > 2*s.ttl {
			delete(s.seen, id)
		}
	}
	s.mu.Unlock()
}
