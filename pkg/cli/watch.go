package cli

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/framesmith/framesmith/pkg/config"
	"github.com/framesmith/framesmith/pkg/types"
)

// debounceWindow coalesces bursts of filesystem events from editors that
// write spec files in several operations
const debounceWindow = 500 * time.Millisecond

// watchAndRender renders the spec file, then re-renders every time it
// changes, until interrupted.
func watchAndRender(cfg *config.ProjectConfig, specFile, metricsAddr string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory rather than the file itself; atomic saves
	// replace the inode and would silently detach a file-level watch.
	absSpec, err := filepath.Abs(specFile)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(absSpec)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(absSpec), err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	printInfo(fmt.Sprintf("Watching %s (Ctrl-C to stop)", specFile))

	report, err := renderOnce(cfg, specFile, metricsAddr)
	if err != nil {
		return err
	}
	if report.Status == types.RunStatusInterrupted {
		return nil
	}

	var debounce *time.Timer
	var debounceCh <-chan time.Time

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !eventTouches(event, absSpec) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.NewTimer(debounceWindow)
			debounceCh = debounce.C

		case <-debounceCh:
			debounceCh = nil
			printInfo("Spec file changed, re-rendering")
			report, err := renderOnce(cfg, specFile, metricsAddr)
			if err != nil {
				printError(err.Error())
				continue
			}
			if report.Status == types.RunStatusInterrupted {
				return nil
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			printError(fmt.Sprintf("Watch error: %v", err))

		case <-sigCh:
			printInfo("Stopping watch mode")
			return nil
		}
	}
}

// eventTouches reports whether a filesystem event concerns the spec file
func eventTouches(event fsnotify.Event, absSpec string) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return false
	}
	abs, err := filepath.Abs(event.Name)
	if err != nil {
		return false
	}
	return abs == absSpec
}
