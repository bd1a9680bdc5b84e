package state

import (
	"sync"
	"time"
)

// Library check outcomes, mirroring what the admin screen shows.
const (
	LibraryExists  = "exists"
	LibraryMissing = "not_exists"
	LibraryError   = "error"
)

// LibraryStatus is the last known state of the analytics CLI binary.
type LibraryStatus struct {
	State     string `json:"state"`
	Message   string `json:"message"`
	Version   string `json:"version,omitempty"`
	Pinned    string `json:"pinned_version,omitempty"`
	Outdated  bool   `json:"outdated"`
	Arch      string `json:"arch,omitempty"`
	CheckedAt int64  `json:"checked_at"`
}

// Usable reports whether the internal server can run with this library.
func (s LibraryStatus) Usable() bool {
	return s.State == LibraryExists
}

var (
	current LibraryStatus
	mu      sync.RWMutex
)

// UpdateLibraryStatus replaces the stored status, stamping CheckedAt when unset.
func UpdateLibraryStatus(s LibraryStatus) {
	mu.Lock()
	defer mu.Unlock()
	if s.CheckedAt == 0 {
		s.CheckedAt = time.Now().UnixMilli()
	}
	current = s
}

// GetLibraryStatus returns a copy of the stored status.
func GetLibraryStatus() LibraryStatus {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// Reset clears the stored status.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	current = LibraryStatus{}
}
