package lookupd

import (
	"bufio"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// HostsEntry is one hostname/address pair read from a hosts file.
type HostsEntry struct {
	Host    string
	Address string
}

// HostsSource reads and watches a system hosts file.
type HostsSource interface {
	Read() ([]HostsEntry, error)
	Watch(onChange func()) error
	StopWatching()
}

// DefaultHostsPath returns the OS's conventional hosts file path. The
// source this package learns from carries an unescaped backslash in its
// Windows constructor; that is a bug, so this
// implementation builds the canonical path with filepath.Join instead of
// guessing at the author's intent.
func DefaultHostsPath() (string, error) {
	switch runtime.GOOS {
	case "windows":
		root := os.Getenv("SystemRoot")
		if root == "" {
			root = `C:\Windows`
		}
		return filepath.Join(root, "System32", "drivers", "etc", "hosts"), nil
	case "linux", "darwin", "freebsd", "openbsd", "netbsd", "solaris", "android", "ios":
		return "/etc/hosts", nil
	default:
		return "", NewLookupError(CodeUnsupportedPlatform, "", nil)
	}
}

// FileHostsSource is the default HostsSource, reading a plain hosts(5)
// file and watching its containing directory with fsnotify (editors
// typically replace the file rather than writing it in place, so the
// directory, not the file descriptor, is what must be watched).
type FileHostsSource struct {
	Path   string
	Logger *logrus.Logger

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	stopDone chan struct{}
	watching bool
}

func NewFileHostsSource(path string, logger *logrus.Logger) *FileHostsSource {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &FileHostsSource{Path: path, Logger: logger}
}

func (s *FileHostsSource) Read() ([]HostsEntry, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, NewLookupError(CodeHostsNotFound, s.Path, err)
		}
		return nil, NewLookupError(CodeHostsNotReadable, s.Path, err)
	}
	defer f.Close()
	return parseHostsFile(f)
}

func parseHostsFile(r io.Reader) ([]HostsEntry, error) {
	var entries []HostsEntry
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		ip := net.ParseIP(fields[0])
		if ip == nil {
			continue
		}
		for _, name := range fields[1:] {
			entries = append(entries, HostsEntry{Host: strings.ToLower(name), Address: fields[0]})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, NewLookupError(CodeHostsParseError, "", err)
	}
	return entries, nil
}

// Watch installs onChange to be invoked after every modification to the
// hosts file. Calling Watch twice is a no-op on the second call.
func (s *FileHostsSource) Watch(onChange func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watching {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return NewLookupError(CodeHostsNotReadable, s.Path, err)
	}
	dir := filepath.Dir(s.Path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return NewLookupError(CodeHostsNotReadable, s.Path, err)
	}

	s.watcher = w
	s.stopDone = make(chan struct{})
	s.watching = true

	go s.watchLoop(w, onChange)
	return nil
}

func (s *FileHostsSource) watchLoop(w *fsnotify.Watcher, onChange func()) {
	base := filepath.Base(s.Path)
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				close(s.stopDone)
				return
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				onChange()
			}
		case err, ok := <-w.Errors:
			if !ok {
				close(s.stopDone)
				return
			}
			s.Logger.WithError(err).Warn("lookupd: hosts watcher error")
		}
	}
}

// StopWatching is idempotent.
func (s *FileHostsSource) StopWatching() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.watching {
		return
	}
	s.watcher.Close()
	s.watching = false
}

// hostsAddrs is the per-hostname bucket in a hosts snapshot.
type hostsAddrs struct {
	v4 []string
	v6 []string
}

// HostsSnapshot is an immutable, atomically-swapped view of the hosts
// file, keyed by lower-cased hostname.
type HostsSnapshot struct {
	m map[string]hostsAddrs
}

func newHostsSnapshot(entries []HostsEntry) *HostsSnapshot {
	m := make(map[string]hostsAddrs, len(entries))
	checker := netIPChecker{}
	for _, e := range entries {
		key := strings.ToLower(e.Host)
		addrs := m[key]
		if checker.IsV4(e.Address) {
			addrs.v4 = append(addrs.v4, e.Address)
		} else if checker.IsV6(e.Address) {
			addrs.v6 = append(addrs.v6, e.Address)
		}
		m[key] = addrs
	}
	return &HostsSnapshot{m: m}
}

func (s *HostsSnapshot) lookup(host string) (hostsAddrs, bool) {
	if s == nil {
		return hostsAddrs{}, false
	}
	addrs, ok := s.m[strings.ToLower(host)]
	return addrs, ok
}
