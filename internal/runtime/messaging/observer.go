package messaging

import "time"

// Resolution describes how a pending call ended.
type Resolution string

const (
	ResolvedByReply       Resolution = "reply"
	ResolvedByClose       Resolution = "closed"
	ResolvedBySendFailure Resolution = "send_failed"
)

// Observer receives channel events for metrics. Calls may arrive from any
// goroutine.
type Observer interface {
	FrameSent(channel string, bytes int)
	FrameReceived(channel string, bytes int)
	CallResolved(channel string, how Resolution, latency time.Duration)
	ReplyUnmatched(correlationID uint32)
	PendingChanged(pending int)
}

type nopObserver struct{}

func (nopObserver) FrameSent(string, int)                          {}
func (nopObserver) FrameReceived(string, int)                      {}
func (nopObserver) CallResolved(string, Resolution, time.Duration) {}
func (nopObserver) ReplyUnmatched(uint32)                          {}
func (nopObserver) PendingChanged(int)                             {}
