package sim

import (
	"time"

	"meshops-sim/internal/store"
	"meshops-sim/internal/telemetry"

	"github.com/google/uuid"
)

// ChatterChance is the per-unit, per-tick probability of a chatter line.
const ChatterChance = 0.005

// Message sources.
const (
	SourceUnit     = "unit"
	SourceOperator = "operator"
)

// DefaultPhrases is the built-in chatter vocabulary.
var DefaultPhrases = []string{
	"Position confirmed, all clear.",
	"Checking in, signal is good.",
	"Holding at current location.",
	"Requesting status update.",
	"Relay link stable.",
	"Battery check complete.",
	"Moving to next waypoint.",
	"Copy that, standing by.",
}

// chatter rolls the dice for every eligible unit in st and queues the
// resulting messages.
func (s *Simulator) chatter(st *store.State, now time.Time) []telemetry.MessageRow {
	if len(s.phrases) == 0 {
		return nil
	}
	var rows []telemetry.MessageRow
	for i := range st.Units {
		u := &st.Units[i]
		if !u.Active || u.Status == telemetry.StatusOffline {
			continue
		}
		if s.rand.Float64() >= ChatterChance {
			continue
		}
		msg := s.newMessage(u, s.phrases[s.rand.Intn(len(s.phrases))], SourceUnit, now)
		rows = append(rows, s.messageRow(msg))
		queue(st, msg)
	}
	return rows
}

func (s *Simulator) newMessage(u *telemetry.Unit, text, source string, now time.Time) telemetry.Message {
	msg := telemetry.Message{
		ID:        uuid.New().String(),
		UnitID:    u.ID,
		UnitName:  u.Name,
		Text:      text,
		Source:    source,
		Timestamp: now,
	}
	m := msg
	u.LastMessage = &m
	return msg
}

func (s *Simulator) messageRow(m telemetry.Message) telemetry.MessageRow {
	return telemetry.MessageRow{
		ClusterID: s.clusterID,
		MessageID: m.ID,
		UnitID:    m.UnitID,
		UnitName:  m.UnitName,
		Source:    m.Source,
		Text:      m.Text,
		Timestamp: m.Timestamp,
	}
}

// queue appends msg to the pending queue, dropping the oldest entries
// beyond maxPending.
func queue(st *store.State, msg telemetry.Message) {
	st.Pending = append(st.Pending, msg)
	if over := len(st.Pending) - maxPending; over > 0 {
		st.Pending = append([]telemetry.Message(nil), st.Pending[over:]...)
	}
}
