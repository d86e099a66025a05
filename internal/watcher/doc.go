// Package watcher drives the dashboard from outside the request path.
//
// Two background loops live here:
//   - Watcher calls Refresh on a target at a fixed interval, so the
//     terminal and HTTP views stay current without user input.
//   - ConfigWatcher follows the config file with fsnotify and reports
//     (debounced) changes so a server can rebuild its controller.
//
// Both follow the same lifecycle: construct, Start, then Stop, which
// blocks until the loop goroutine has exited.
//
// Example usage:
//
//	w, err := watcher.New(ctrl, 5*time.Minute, log)
//	if err != nil {
//		return err
//	}
//	if err := w.Start(); err != nil {
//		return err
//	}
//	defer w.Stop()
package watcher
