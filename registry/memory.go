package registry

import (
	"sort"
	"sync"
	"time"
)

// Memory is a Registry that lives only as long as the process.
type Memory struct {
	mu       sync.Mutex
	nodes    map[uint8]Node
	payloads map[uint8][]PayloadRecord
}

func NewMemory() *Memory {
	return &Memory{
		nodes:    make(map[uint8]Node),
		payloads: make(map[uint8][]PayloadRecord),
	}
}

// Nodes returns every node ordered by unique id, each with its latest payload.
func (m *Memory) Nodes() ([]Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Node, 0, len(m.nodes))
	for id, n := range m.nodes {
		if p := m.payloads[id]; len(p) > 0 {
			n.LastPayload = p[len(p)-1]
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UniqueID < out[j].UniqueID })
	return out, nil
}

func (m *Memory) Node(uniqueID uint8) (Node, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[uniqueID]
	if p := m.payloads[uniqueID]; ok && len(p) > 0 {
		n.LastPayload = p[len(p)-1]
	}
	return n, ok, nil
}

func (m *Memory) UpsertNode(n Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n.LastPayload = PayloadRecord{}
	m.nodes[n.UniqueID] = n
	return nil
}

// DeleteNode removes the node and its payload history.
func (m *Memory) DeleteNode(uniqueID uint8) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.nodes, uniqueID)
	delete(m.payloads, uniqueID)
	return nil
}

func (m *Memory) LatestPayload(uniqueID uint8) (PayloadRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.payloads[uniqueID]
	if len(p) == 0 {
		return PayloadRecord{}, false, nil
	}
	return p[len(p)-1], true, nil
}

func (m *Memory) AppendPayload(uniqueID uint8, typeTag byte, text string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.nodes[uniqueID]; !ok {
		return ErrUnknownNode
	}
	m.payloads[uniqueID] = append(m.payloads[uniqueID], PayloadRecord{Type: typeTag, Text: text, At: at})
	return nil
}

func (m *Memory) NodeCount() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.nodes), nil
}

func (m *Memory) PayloadCount(uniqueID uint8) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.payloads[uniqueID]), nil
}
