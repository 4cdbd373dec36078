package query

import (
	"sort"
	"sync"

	"github.com/murre-ai/murre/pkg/logger"
)

type EventKind string

const (
	EventConsideredChunkIDs EventKind = "considered_chunk_ids"
	EventUsedChunkIDs       EventKind = "used_chunk_ids"
	EventQueriedEntityIDs   EventKind = "queried_entity_ids"
	EventStrategyFired      EventKind = "strategy_fired"
	EventSubQuestions       EventKind = "sub_questions"
)

// Event is an extensible envelope for query observation.
// Additive changes to this struct are backward compatible for implementers.
type Event struct {
	Kind EventKind

	ChunkIDs  []string
	EntityIDs []string

	Strategy string

	SubQuestionCount int
	EvidenceCounts   []int
	Confidence       float64
}

// Observer is a sink for query observation events. Implementers can forward
// events to logs, metering, or telemetry. Observers are invoked
// synchronously but can never fail or block the query path: panics are
// swallowed and logged.
type Observer interface {
	Record(event Event)
}

// MultiObserver fans events out to multiple observers.
type MultiObserver []Observer

func (m MultiObserver) Record(event Event) {
	for _, o := range m {
		if o == nil {
			continue
		}
		o.Record(event)
	}
}

func notify(o Observer, event Event) {
	if o == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("query observer panicked", "kind", event.Kind, "panic", r)
		}
	}()
	o.Record(event)
}

func recordConsideredChunkIDs(o Observer, ids ...string) {
	if len(ids) == 0 {
		return
	}
	notify(o, Event{Kind: EventConsideredChunkIDs, ChunkIDs: ids})
}

func recordUsedChunkIDs(o Observer, ids ...string) {
	if len(ids) == 0 {
		return
	}
	notify(o, Event{Kind: EventUsedChunkIDs, ChunkIDs: ids})
}

func recordQueriedEntityIDs(o Observer, ids ...string) {
	if len(ids) == 0 {
		return
	}
	notify(o, Event{Kind: EventQueriedEntityIDs, EntityIDs: ids})
}

func recordStrategyFired(o Observer, strategy string) {
	notify(o, Event{Kind: EventStrategyFired, Strategy: strategy})
}

func recordSubQuestions(o Observer, count int, evidenceCounts []int, confidence float64) {
	notify(o, Event{
		Kind:             EventSubQuestions,
		SubQuestionCount: count,
		EvidenceCounts:   evidenceCounts,
		Confidence:       confidence,
	})
}

// QueryObservation collects what data was considered and/or used during a
// query run, and which strategies fired. It is safe for concurrent use.
type QueryObservation struct {
	mu sync.Mutex

	consideredChunkIDs map[string]struct{}
	usedChunkIDs       map[string]struct{}
	queriedEntityIDs   map[string]struct{}
	strategies         []string
}

// ObservationSnapshot is a sorted, immutable view of a QueryObservation.
type ObservationSnapshot struct {
	ConsideredChunkIDs []string
	UsedChunkIDs       []string
	QueriedEntityIDs   []string
	Strategies         []string
}

func NewQueryObservation() *QueryObservation {
	return &QueryObservation{
		consideredChunkIDs: make(map[string]struct{}),
		usedChunkIDs:       make(map[string]struct{}),
		queriedEntityIDs:   make(map[string]struct{}),
	}
}

func (q *QueryObservation) Record(event Event) {
	if q == nil {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	switch event.Kind {
	case EventConsideredChunkIDs:
		for _, id := range event.ChunkIDs {
			if id == "" {
				continue
			}
			q.consideredChunkIDs[id] = struct{}{}
		}
	case EventUsedChunkIDs:
		for _, id := range event.ChunkIDs {
			if id == "" {
				continue
			}
			q.usedChunkIDs[id] = struct{}{}
		}
	case EventQueriedEntityIDs:
		for _, id := range event.EntityIDs {
			if id == "" {
				continue
			}
			q.queriedEntityIDs[id] = struct{}{}
		}
	case EventStrategyFired:
		if event.Strategy != "" {
			q.strategies = append(q.strategies, event.Strategy)
		}
	}
}

func (q *QueryObservation) Snapshot() ObservationSnapshot {
	if q == nil {
		return ObservationSnapshot{}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	s := ObservationSnapshot{
		ConsideredChunkIDs: make([]string, 0, len(q.consideredChunkIDs)),
		UsedChunkIDs:       make([]string, 0, len(q.usedChunkIDs)),
		QueriedEntityIDs:   make([]string, 0, len(q.queriedEntityIDs)),
		Strategies:         append([]string(nil), q.strategies...),
	}

	for id := range q.consideredChunkIDs {
		s.ConsideredChunkIDs = append(s.ConsideredChunkIDs, id)
	}
	for id := range q.usedChunkIDs {
		s.UsedChunkIDs = append(s.UsedChunkIDs, id)
	}
	for id := range q.queriedEntityIDs {
		s.QueriedEntityIDs = append(s.QueriedEntityIDs, id)
	}

	sort.Strings(s.ConsideredChunkIDs)
	sort.Strings(s.UsedChunkIDs)
	sort.Strings(s.QueriedEntityIDs)

	return s
}
