package transcript

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/memorable-dev/memorable/internal/store"
)

// Scan walks the configured transcript directories and queues JSONL files
// that have been quiet for at least the given window. A session is idle only
// when both its file mtime and its last captured activity (tool calls,
// prompts) are older than the window; files whose content hash is already
// known are skipped, so a file is queued at most once per version of its
// content.
func Scan(st *store.Store, dirs []string, quiet time.Duration) (int, error) {
	activity, err := st.LastActivity()
	if err != nil {
		return 0, fmt.Errorf("load activity: %w", err)
	}

	queued := 0
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return queued, fmt.Errorf("scan %s: %w", dir, err)
		}
		for _, e := range entries {
			sub := filepath.Join(dir, e.Name())
			if !e.IsDir() {
				continue
			}
			n, err := scanDir(st, sub, quiet, activity)
			if err != nil {
				log.Printf("[transcript] scan %s: %v", sub, err)
				continue
			}
			queued += n
		}
	}
	return queued, nil
}

func scanDir(st *store.Store, dir string, quiet time.Duration, activity map[string]time.Time) (int, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.jsonl"))
	if err != nil {
		return 0, err
	}

	queued := 0
	cutoff := time.Now().Add(-quiet)
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil || info.ModTime().After(cutoff) {
			// Still active, or gone; leave it for a later scan.
			continue
		}
		// The file is named by its session id; captured tool calls and
		// prompts count as activity even when the file itself is quiet.
		sessionID := strings.TrimSuffix(filepath.Base(path), ".jsonl")
		if last, ok := activity[sessionID]; ok && last.After(cutoff) {
			continue
		}
		hash, err := HashFile(path)
		if err != nil {
			log.Printf("[transcript] hash %s: %v", path, err)
			continue
		}
		known, err := st.HasTranscriptHash(hash)
		if err != nil {
			return queued, err
		}
		if known {
			continue
		}
		if err := st.EnqueueTranscript(path, hash); err != nil {
			return queued, err
		}
		queued++
	}
	return queued, nil
}
