package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/tthsd/tthsd/internal/config"
)

var (
	debugMu      sync.Mutex
	debugDir     = config.GetLogsDir()
	debugFile    *os.File
	debugOnce    sync.Once
	debugEnabled = os.Getenv("TTHSD_DEBUG") != ""
)

// EnableDebug turns on file logging regardless of the TTHSD_DEBUG environment variable.
func EnableDebug() {
	debugMu.Lock()
	debugEnabled = true
	debugMu.Unlock()
}

// ConfigureDebug redirects the debug log directory. Mainly useful for tests.
func ConfigureDebug(dir string) {
	debugMu.Lock()
	defer debugMu.Unlock()
	debugDir = dir
	if debugFile != nil {
		debugFile.Close()
		debugFile = nil
	}
	debugOnce = sync.Once{}
}

func openDebugFile() {
	if err := os.MkdirAll(debugDir, 0755); err != nil {
		return
	}
	name := fmt.Sprintf("debug-%s.log", time.Now().Format("20060102-150405"))
	f, err := os.OpenFile(filepath.Join(debugDir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return
	}
	debugFile = f
}

// Debug writes a formatted message to the debug log file. It is a no-op
// unless debugging has been enabled via TTHSD_DEBUG or EnableDebug.
func Debug(format string, args ...any) {
	debugMu.Lock()
	enabled := debugEnabled
	debugMu.Unlock()
	if !enabled {
		return
	}

	debugOnce.Do(openDebugFile)

	debugMu.Lock()
	defer debugMu.Unlock()
	if debugFile == nil {
		return
	}
	line := fmt.Sprintf("[%s] %s\n", time.Now().Format(time.RFC3339Nano), fmt.Sprintf(format, args...))
	debugFile.WriteString(line)
}

// CleanupLogs removes all but the `keep` most recent debug log files in the
// configured logs directory.
func CleanupLogs(keep int) {
	debugMu.Lock()
	dir := debugDir
	debugMu.Unlock()

	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	var logs []os.DirEntry
	for _, e := range entries {
		if !e.IsDir() && len(e.Name()) > 6 && e.Name()[:6] == "debug-" {
			logs = append(logs, e)
		}
	}

	sort.Slice(logs, func(i, j int) bool {
		return logs[i].Name() < logs[j].Name()
	})

	if len(logs) <= keep {
		return
	}

	for _, e := range logs[:len(logs)-keep] {
		os.Remove(filepath.Join(dir, e.Name()))
	}
}
