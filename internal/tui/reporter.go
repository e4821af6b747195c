package tui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"
)

// FetchReporter adapts bubbletea message sending to the warehouse
// progress-reporter interface. Downloads run concurrently, so sends are
// serialized.
type FetchReporter struct {
	mu   sync.Mutex
	send func(tea.Msg)
}

// NewFetchReporter constructs a reporter over a program send function.
func NewFetchReporter(send func(tea.Msg)) *FetchReporter {
	return &FetchReporter{send: send}
}

// Start marks a package download as in flight.
func (r *FetchReporter) Start(name, version string) {
	r.update(name, map[string]string{"VERSION": version, "STATUS": "downloading"})
}

// Done records the download outcome for a package.
func (r *FetchReporter) Done(name string, err error) {
	status := "downloaded"
	if err != nil {
		status = "error"
	}
	r.update(name, map[string]string{"STATUS": status})
}

func (r *FetchReporter) update(key string, fields map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.send(RowUpdateMsg{Key: key, Fields: fields})
}
