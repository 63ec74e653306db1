// Package notify dispatches safety-event notifications. Delivery itself
// (SMTP, watch push) is handled by external consumers; this side only
// publishes to the notify subjects and never blocks the recorder.
package notify

import (
	"encoding/json"
	"log"
	"time"
)

const (
	subjectEmail = "notify.email"
	subjectPush  = "notify.push"
)

// Conn is the slice of the NATS client the notifier needs.
type Conn interface {
	Publish(subject string, data []byte) error
}

// EventNotice is the payload both channels receive.
type EventNotice struct {
	EventID   string    `json:"event_id"`
	StreamID  string    `json:"stream_id"`
	ModelName string    `json:"model_name"`
	Location  string    `json:"location,omitempty"`
	Reasons   []string  `json:"reasons"`
	VideoName string    `json:"video_name"`
	Timestamp time.Time `json:"timestamp"`
}

// Notifier publishes event notices fire-and-forget.
type Notifier struct {
	nc Conn
}

func NewNotifier(nc Conn) *Notifier {
	return &Notifier{nc: nc}
}

// EventRecorded fans the notice out to email and push in the background.
// Failure to notify never blocks or fails recording.
func (n *Notifier) EventRecorded(notice EventNotice) {
	go func() {
		data, err := json.Marshal(notice)
		if err != nil {
			log.Printf("[Notify] marshal notice for %s: %v", notice.StreamID, err)
			return
		}
		for _, subject := range []string{subjectEmail, subjectPush} {
			if err := n.nc.Publish(subject, data); err != nil {
				log.Printf("[Notify] publish %s for %s: %v", subject, notice.StreamID, err)
			}
		}
	}()
}
