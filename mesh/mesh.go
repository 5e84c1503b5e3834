// Package mesh hands out tree addresses to nodes identified by a one-byte
// unique id and resolves ids to addresses through the root.
package mesh

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ystepanoff/nrfmesh/network"
	proto "github.com/ystepanoff/nrfmesh/protocol"
	"github.com/ystepanoff/nrfmesh/registry"
)

type State uint8

const (
	StateUnassigned State = iota
	StateProvisional
	StateAssigned
)

func (s State) String() string {
	switch s {
	case StateUnassigned:
		return "unassigned"
	case StateProvisional:
		return "provisional"
	case StateAssigned:
		return "assigned"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

type Config struct {
	// NodeID is this node's unique id; 0 makes it the root.
	NodeID         uint8
	Channel        uint8
	DataRate       proto.DataRate
	RenewalTimeout time.Duration
	LookupTimeout  time.Duration
	// MaxChildren limits how many children DHCP hands out under one parent.
	MaxChildren int
	Logger      *slog.Logger
}

func DefaultConfig() Config {
	return Config{
		Channel:        proto.DefaultChannel,
		DataRate:       proto.DataRate1Mbps,
		RenewalTimeout: proto.MeshRenewalTimeout * time.Millisecond,
		LookupTimeout:  proto.MeshLookupTimeout * time.Millisecond,
		MaxChildren:    proto.MeshMaxChildren,
	}
}

const (
	pollWindow      = 55 * time.Millisecond
	requestWindow   = 225 * time.Millisecond
	addrLookupWait  = 150 * time.Millisecond
	idLookupWait    = 500 * time.Millisecond
	confirmAttempts = 6
	confirmDelay    = 3 * time.Millisecond
	pingAttempts    = 3
	pingDelay       = 103 * time.Millisecond
)

// Mesh drives one node's address lifecycle. On the root it also owns the
// id to address table, mirrored to a Registry.
type Mesh struct {
	net *network.Network
	reg registry.Registry
	cfg Config
	log *slog.Logger

	state   State
	address proto.Address

	dhcpPending bool
	request     proto.Frame

	mu    sync.RWMutex
	nodes []registry.Node
}

// New builds a mesh on net. A nil reg keeps the node table in memory.
func New(net *network.Network, reg registry.Registry, cfg Config) *Mesh {
	def := DefaultConfig()
	if cfg.Channel == 0 {
		cfg.Channel = def.Channel
	}
	if cfg.RenewalTimeout <= 0 {
		cfg.RenewalTimeout = def.RenewalTimeout
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = def.LookupTimeout
	}
	if cfg.MaxChildren <= 0 || cfg.MaxChildren > 4 {
		cfg.MaxChildren = def.MaxChildren
	}
	if reg == nil {
		reg = registry.NewMemory()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Mesh{
		net:     net,
		reg:     reg,
		cfg:     cfg,
		log:     logger.With("component", "mesh", "id", cfg.NodeID),
		address: proto.DefaultAddress,
	}
}

func (m *Mesh) NodeID() uint8 { return m.cfg.NodeID }
func (m *Mesh) Address() proto.Address { return m.address }
func (m *Mesh) State() State { return m.state }
func (m *Mesh) Network() *network.Network { return m.net }
func (m *Mesh) Registry() registry.Registry { return m.reg }
func (m *Mesh) isRoot() bool { return m.cfg.NodeID == 0 }

// Begin starts the radio and joins the mesh. The root loads its node table
// and takes address 0; any other node requests an address and returns
// false if none was granted within the renewal timeout.
func (m *Mesh) Begin() (bool, error) {
	radio := m.net.Radio()
	if err := radio.Begin(); err != nil {
		return false, fmt.Errorf("mesh: radio begin: %w", err)
	}
	if err := radio.SetChannel(m.cfg.Channel); err != nil {
		return false, fmt.Errorf("mesh: set channel: %w", err)
	}
	if _, err := radio.SetDataRate(m.cfg.DataRate); err != nil {
		return false, fmt.Errorf("mesh: set data rate: %w", err)
	}
	m.net.ReturnSysMsgs = true

	if !m.isRoot() {
		return m.RenewAddress(m.cfg.RenewalTimeout)
	}

	nodes, err := m.reg.Nodes()
	if err != nil {
		return false, fmt.Errorf("mesh: load nodes: %w", err)
	}
	m.mu.Lock()
	m.nodes = nodes
	m.mu.Unlock()

	ok, err := m.net.Begin(network.KeepChannel, proto.RootAddress)
	if err != nil || !ok {
		return ok, err
	}
	m.address = proto.RootAddress
	m.state = StateAssigned
	m.log.Info("root started", "nodes", len(nodes), "channel", m.cfg.Channel)
	return true, nil
}

// Update pumps the network. On the root it answers lookups, records
// releases and flags address requests for DHCP.
func (m *Mesh) Update() (byte, error) {
	typ, err := m.net.Update()
	if err != nil {
		return 0, err
	}
	if m.address == proto.DefaultAddress {
		return typ, nil
	}
	if typ == proto.TypeReqAddress {
		m.dhcpPending = true
		m.request = m.net.LastFrame()
	}
	if !m.isRoot() {
		return typ, nil
	}

	switch typ {
	case proto.TypeAddrLookup, proto.TypeIDLookup:
		if err := m.answerLookup(typ, m.net.LastFrame()); err != nil {
			return typ, err
		}
	case proto.TypeAddrRelease:
		if err := m.release(m.net.LastFrame().From); err != nil {
			return typ, err
		}
	}
	return typ, nil
}

func (m *Mesh) answerLookup(typ byte, req proto.Frame) error {
	answer := uint16(proto.MeshBlankID)
	switch typ {
	case proto.TypeAddrLookup:
		if len(req.Payload) < 1 {
			return nil
		}
		if addr, ok := m.lookupLocalAddress(req.Payload[0]); ok {
			answer = uint16(addr)
		}
	case proto.TypeIDLookup:
		if len(req.Payload) < 2 {
			return nil
		}
		addr := proto.Address(uint16(req.Payload[0]) | uint16(req.Payload[1])<<8)
		if id, ok := m.lookupLocalID(addr); ok {
			answer = uint16(id)
		}
	}

	h := proto.Header{To: req.From, ID: req.ID, Type: typ}
	ok, err := m.net.Write(&h, []byte{byte(answer), byte(answer >> 8)})
	if err != nil {
		return err
	}
	m.log.Debug("lookup answered", "type", proto.TypeName(typ), "to", req.From, "answer", answer, "sent", ok)
	return nil
}

func (m *Mesh) release(addr proto.Address) error {
	m.mu.Lock()
	var changed []registry.Node
	for i := range m.nodes {
		if m.nodes[i].Address == addr {
			m.nodes[i].Address = proto.RootAddress
			m.nodes[i].ReleaseTime = time.Now()
			changed = append(changed, m.nodes[i])
		}
	}
	m.mu.Unlock()

	for _, n := range changed {
		m.log.Info("address released", "node", n.UniqueID, "address", addr)
		if err := m.persist(n); err != nil {
			return fmt.Errorf("mesh: persist release: %w", err)
		}
	}
	return nil
}

// bind records that id holds addr and writes it through to the registry.
func (m *Mesh) bind(id uint8, addr proto.Address) error {
	m.mu.Lock()
	i := m.indexOf(id)
	if i < 0 {
		m.nodes = append(m.nodes, registry.Node{UniqueID: id})
		i = len(m.nodes) - 1
	}
	m.nodes[i].Address = addr
	m.nodes[i].ReleaseTime = time.Now()
	n := m.nodes[i]
	m.mu.Unlock()

	if err := m.persist(n); err != nil {
		return fmt.Errorf("mesh: persist node %d: %w", id, err)
	}
	return nil
}

// persist writes the address fields of n over the stored record, keeping
// the descriptive fields other writers own.
func (m *Mesh) persist(n registry.Node) error {
	stored, ok, err := m.reg.Node(n.UniqueID)
	if err != nil {
		return err
	}
	if ok {
		stored.Address = n.Address
		stored.ReleaseTime = n.ReleaseTime
		n = stored

		m.mu.Lock()
		if i := m.indexOf(n.UniqueID); i >= 0 {
			m.nodes[i].Name = n.Name
			m.nodes[i].Type = n.Type
			m.nodes[i].Topic = n.Topic
		}
		m.mu.Unlock()
	}
	return m.reg.UpsertNode(n)
}

// indexOf must be called with m.mu held.
func (m *Mesh) indexOf(id uint8) int {
	for i := range m.nodes {
		if m.nodes[i].UniqueID == id {
			return i
		}
	}
	return -1
}

func (m *Mesh) lookupLocalAddress(id uint8) (proto.Address, bool) {
	if id == 0 {
		return proto.RootAddress, true
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if i := m.indexOf(id); i >= 0 && m.nodes[i].Bound() {
		return m.nodes[i].Address, true
	}
	return 0, false
}

func (m *Mesh) lookupLocalID(addr proto.Address) (uint8, bool) {
	if addr == proto.RootAddress {
		return 0, true
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, n := range m.nodes {
		if n.Address == addr {
			return n.UniqueID, true
		}
	}
	return 0, false
}

// SetStaticAddress binds id to addr on the root without a DHCP exchange.
func (m *Mesh) SetStaticAddress(id uint8, addr proto.Address) error {
	if !addr.Valid() {
		return fmt.Errorf("mesh: static address %v: %w", addr, proto.ErrInvalidAddress)
	}
	return m.bind(id, addr)
}

// SetChild controls whether this node answers polls from joining nodes.
func (m *Mesh) SetChild(allow bool) {
	if allow {
		m.net.ClearFlags(network.FlagNoPoll)
	} else {
		m.net.SetFlags(network.FlagNoPoll)
	}
}

func (m *Mesh) SetChannel(ch uint8) error {
	radio := m.net.Radio()
	if err := radio.SetChannel(ch); err != nil {
		return err
	}
	m.cfg.Channel = ch
	return radio.StartListening()
}

// Nodes returns a copy of the root's node table.
func (m *Mesh) Nodes() []registry.Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]registry.Node, len(m.nodes))
	copy(out, m.nodes)
	return out
}

// RecordPayload stores a payload received from node id and makes it the
// node's LastPayload.
func (m *Mesh) RecordPayload(id uint8, typeTag byte, text string) error {
	rec := registry.PayloadRecord{Type: typeTag, Text: text, At: time.Now()}
	if err := m.reg.AppendPayload(id, typeTag, text, rec.At); err != nil {
		return fmt.Errorf("mesh: record payload of %d: %w", id, err)
	}
	m.mu.Lock()
	if i := m.indexOf(id); i >= 0 {
		m.nodes[i].LastPayload = rec
	}
	m.mu.Unlock()
	return nil
}

// UpdatePayloads refreshes every node's LastPayload from the registry.
func (m *Mesh) UpdatePayloads() error {
	for _, n := range m.Nodes() {
		p, ok, err := m.reg.LatestPayload(n.UniqueID)
		if err != nil {
			return fmt.Errorf("mesh: load payload of %d: %w", n.UniqueID, err)
		}
		if !ok {
			continue
		}
		m.mu.Lock()
		if i := m.indexOf(n.UniqueID); i >= 0 {
			m.nodes[i].LastPayload = p
		}
		m.mu.Unlock()
	}
	return nil
}
