package speech

import "sync"

// CaptureRegistry 跟踪每个用户的实时采集会话，同一用户只保留最新的一个。
type CaptureRegistry struct {
	mu       sync.Mutex
	captures map[string]*Capture
}

// NewCaptureRegistry creates an empty registry.
func NewCaptureRegistry() *CaptureRegistry {
	return &CaptureRegistry{captures: make(map[string]*Capture)}
}

// Attach 登记采集会话；若已存在旧会话，先将其关闭。
func (r *CaptureRegistry) Attach(userID string, capture *Capture) {
	r.mu.Lock()
	old, exists := r.captures[userID]
	r.captures[userID] = capture
	r.mu.Unlock()

	if exists && old != capture {
		old.Close()
	}
}

// Get returns the live capture for a user.
func (r *CaptureRegistry) Get(userID string) (*Capture, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	capture, ok := r.captures[userID]
	return capture, ok
}

// Detach removes capture if it is still the registered one for the user.
func (r *CaptureRegistry) Detach(userID string, capture *Capture) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.captures[userID]; ok && current == capture {
		delete(r.captures, userID)
	}
}

// CloseAll closes every registered capture.
func (r *CaptureRegistry) CloseAll() {
	r.mu.Lock()
	captures := r.captures
	r.captures = make(map[string]*Capture)
	r.mu.Unlock()

	for _, capture := range captures {
		capture.Close()
	}
}
