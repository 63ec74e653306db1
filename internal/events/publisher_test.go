package events

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu       sync.Mutex
	fail     int // fail this many publishes before succeeding
	subjects []string
	payloads [][]byte
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail > 0 {
		f.fail--
		return errors.New("nats down")
	}
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, data)
	return nil
}

func TestIntrusionAlertSubjectAndPayload(t *testing.T) {
	fc := &fakeConn{}
	p := NewPublisher(fc)

	p.Intrusion("cam_001")

	require.Len(t, fc.subjects, 1)
	assert.Equal(t, "alert-cam_001", fc.subjects[0])

	var body map[string]any
	require.NoError(t, json.Unmarshal(fc.payloads[0], &body))
	assert.Equal(t, "intrusion", body["type"])
}

func TestPublishRetriesTransientFailure(t *testing.T) {
	fc := &fakeConn{fail: 2}
	p := NewPublisher(fc)

	p.AutotrackChanged("cam_001", true)

	require.Len(t, fc.subjects, 1, "third attempt should land")
	assert.Equal(t, SubjectPTZAutotrack, fc.subjects[0])
}

func TestPublishGivesUpAfterRetries(t *testing.T) {
	fc := &fakeConn{fail: 5}
	p := NewPublisher(fc)

	p.ZoomLevel("cam_001", 0.3)

	assert.Empty(t, fc.subjects, "all attempts failed, event dropped")
}

func TestPatrolPreviewSubjects(t *testing.T) {
	fc := &fakeConn{}
	p := NewPublisher(fc)

	p.PatrolPreviewStart("cam_001", 2)
	p.PatrolPreviewWaypoint("cam_001", 0, 0.1, -0.2, 0.3)
	p.PatrolPreviewComplete("cam_001")
	p.PatrolPreviewError("cam_001", "device unreachable")

	assert.Equal(t, []string{
		"patrol-preview-start-cam_001",
		"patrol-preview-waypoint-cam_001",
		"patrol-preview-complete-cam_001",
		"patrol-preview-error-cam_001",
	}, fc.subjects)
}
