package testutil

import (
	"context"
	"sync"

	"github.com/hupe1980/agentdispatch/core"
)

// RecordingSender is a core.ActivitySender that records every outgoing
// activity. Err, when set, is returned from every send.
type RecordingSender struct {
	mu   sync.Mutex
	sent []core.Activity
	Err  error
}

// SendActivity implements core.ActivitySender.
func (s *RecordingSender) SendActivity(_ context.Context, inbound core.Activity, out core.Activity) error {
	if s.Err != nil {
		return s.Err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, out.ReplyFrom(inbound))
	return nil
}

// Sent returns a copy of the recorded activities.
func (s *RecordingSender) Sent() []core.Activity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Activity(nil), s.sent...)
}

// Messages returns the texts of recorded message activities.
func (s *RecordingSender) Messages() []string {
	var out []string
	for _, a := range s.Sent() {
		if a.IsMessage() {
			out = append(out, a.Text)
		}
	}
	return out
}

// Types returns the types of all recorded activities in order.
func (s *RecordingSender) Types() []core.ActivityType {
	var out []core.ActivityType
	for _, a := range s.Sent() {
		out = append(out, a.Type)
	}
	return out
}
