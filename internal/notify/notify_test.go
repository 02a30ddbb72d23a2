package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"corrdiv/internal/domain"
	"corrdiv/internal/logging"
)

type recordingNotifier struct {
	events []Event
	snaps  []domain.PortfolioSnapshot
	err    error
}

func (r *recordingNotifier) Notify(_ context.Context, ev Event) error {
	r.events = append(r.events, ev)
	return r.err
}

func (r *recordingNotifier) PublishSnapshot(_ context.Context, snap domain.PortfolioSnapshot) error {
	r.snaps = append(r.snaps, snap)
	return r.err
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(logging.NewWithWriter(&buf, "debug"))

	err := n.Notify(context.Background(), Event{
		Type: EventRiskBreach, TimestampMs: 60_000, Asset: "ETHUSDT", Message: "signal rejected",
		Payload: map[string]string{"rule": "MAX_POSITIONS"},
	})
	require.NoError(t, err)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "warn", line["level"])
	assert.Equal(t, "RISK_BREACH", line["event"])
	assert.Equal(t, "ETHUSDT", line["asset"])
	assert.Equal(t, "signal rejected", line["message"])
}

func TestMulti_DeliversToAllAndJoinsErrors(t *testing.T) {
	ok := &recordingNotifier{}
	failing := &recordingNotifier{err: errors.New("down")}
	m := Multi{failing, ok}

	err := m.Notify(context.Background(), Event{Type: EventSignal})
	assert.ErrorContains(t, err, "down")
	assert.Len(t, ok.events, 1, "later notifiers still receive the event")

	err = m.PublishSnapshot(context.Background(), domain.PortfolioSnapshot{TakenAtMs: 1})
	assert.Error(t, err)
	assert.Len(t, ok.snaps, 1)
}

func TestMulti_SkipsNonPublishers(t *testing.T) {
	var buf bytes.Buffer
	m := Multi{NewLogNotifier(logging.NewWithWriter(&buf, "info"))}
	assert.NoError(t, m.PublishSnapshot(context.Background(), domain.PortfolioSnapshot{}))
}
