package discovery

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"taskhound/internal/logging"
	"taskhound/internal/types"
)

// Frequency thresholds for priority escalation.
const (
	errorLogUrgentHits = 10 // same signature this often -> priority 5
	errorLogHighHits   = 3  // -> priority 4
)

var (
	errorLinePattern = regexp.MustCompile(`(?i)\b(ERROR|FATAL|panic)\b`)

	// Normalization strips volatile fragments so repeats of the same
	// failure collapse into one signature.
	hexPattern    = regexp.MustCompile(`0x[0-9a-fA-F]+`)
	numberPattern = regexp.MustCompile(`\b\d+\b`)
	timePattern   = regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}[0-9.:+\-Z]*`)
)

// ErrorLogSource scans *.log files under a directory for error lines and
// proposes bug_fix candidates grouped by failure signature. Between
// cycles an fsnotify watcher marks dirty files so steady-state cycles
// only re-read what changed; when the watcher is unavailable every cycle
// falls back to a full scan.
type ErrorLogSource struct {
	dir string

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	dirty   map[string]bool
	scanAll bool
}

// NewErrorLogSource creates the source for the given log directory. The
// watcher is best effort; scan-all mode is the fallback.
func NewErrorLogSource(dir string) *ErrorLogSource {
	s := &ErrorLogSource{
		dir:     dir,
		dirty:   make(map[string]bool),
		scanAll: true, // first cycle reads everything
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logging.DiscoveryWarn("ErrorLogSource: watcher unavailable, using full scans: %v", err)
		return s
	}
	if err := watcher.Add(dir); err != nil {
		logging.DiscoveryWarn("ErrorLogSource: cannot watch %s, using full scans: %v", dir, err)
		watcher.Close()
		return s
	}
	s.watcher = watcher
	go s.watch(watcher)
	return s
}

// Close stops the filesystem watcher.
func (s *ErrorLogSource) Close() error {
	s.mu.Lock()
	w := s.watcher
	s.watcher = nil
	s.mu.Unlock()
	if w != nil {
		return w.Close()
	}
	return nil
}

// watch owns the event loop. The watcher is passed in rather than read
// from the struct so Close clearing the field cannot race this
// goroutine; the loop exits when Close shuts the channels.
func (s *ErrorLogSource) watch(w *fsnotify.Watcher) {
	for {
		select {
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, ".log") {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			s.mu.Lock()
			s.dirty[event.Name] = true
			s.mu.Unlock()
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			logging.DiscoveryWarn("ErrorLogSource: watcher error, next cycle scans all: %v", err)
			s.mu.Lock()
			s.scanAll = true
			s.mu.Unlock()
		}
	}
}

func (s *ErrorLogSource) Name() string { return "error_log" }

// Discover reads the dirty (or all) log files and groups error lines by
// signature. Priority scales with how often a signature repeats.
func (s *ErrorLogSource) Discover(ctx context.Context, since time.Time) ([]types.DiscoveryCandidate, error) {
	files, err := s.filesToScan()
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, nil
	}

	type group struct {
		count   int
		sample  string
		file    string
		lineNum int
	}
	groups := make(map[string]*group)
	order := []string{}

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f, err := os.Open(path)
		if err != nil {
			logging.DiscoveryWarn("ErrorLogSource: cannot read %s: %v", path, err)
			continue
		}
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		lineNum := 0
		for scanner.Scan() {
			lineNum++
			line := scanner.Text()
			if !errorLinePattern.MatchString(line) {
				continue
			}
			sig := signature(line)
			g, ok := groups[sig]
			if !ok {
				g = &group{sample: strings.TrimSpace(line), file: path, lineNum: lineNum}
				groups[sig] = g
				order = append(order, sig)
			}
			g.count++
		}
		if err := scanner.Err(); err != nil {
			logging.DiscoveryWarn("ErrorLogSource: scan error in %s: %v", path, err)
		}
		f.Close()
	}

	candidates := make([]types.DiscoveryCandidate, 0, len(groups))
	for _, sig := range order {
		g := groups[sig]
		priority := 3
		switch {
		case g.count >= errorLogUrgentHits:
			priority = 5
		case g.count >= errorLogHighHits:
			priority = 4
		}
		title := g.sample
		if len(title) > 120 {
			title = title[:120]
		}
		candidates = append(candidates, types.DiscoveryCandidate{
			Source:      s.Name(),
			SourceRef:   "sig:" + sig,
			Type:        types.TypeBugFix,
			Title:       "Recurring error: " + title,
			Description: fmt.Sprintf("Error signature seen %d time(s), e.g. %s:%d:\n%s", g.count, filepath.Base(g.file), g.lineNum, g.sample),
			Priority:    priority,
			Context: map[string]string{
				"log_file":    g.file,
				"occurrences": fmt.Sprintf("%d", g.count),
			},
		})
	}
	return candidates, nil
}

// filesToScan drains the dirty set, or lists every *.log file when a
// full scan is pending.
func (s *ErrorLogSource) filesToScan() ([]string, error) {
	s.mu.Lock()
	scanAll := s.scanAll || s.watcher == nil
	s.scanAll = false
	dirty := s.dirty
	s.dirty = make(map[string]bool)
	s.mu.Unlock()

	if !scanAll {
		files := make([]string, 0, len(dirty))
		for path := range dirty {
			files = append(files, path)
		}
		return files, nil
	}

	matches, err := filepath.Glob(filepath.Join(s.dir, "*.log"))
	if err != nil {
		return nil, fmt.Errorf("failed to list log files: %w", err)
	}
	return matches, nil
}

// signature produces a stable hash for an error line with volatile
// fragments (timestamps, addresses, counters) removed.
func signature(line string) string {
	norm := strings.ToLower(strings.TrimSpace(line))
	norm = timePattern.ReplaceAllString(norm, "T")
	norm = hexPattern.ReplaceAllString(norm, "H")
	norm = numberPattern.ReplaceAllString(norm, "N")
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:8])
}
