package mesh

import (
	"encoding/binary"
	"slices"
	"time"

	"github.com/ystepanoff/nrfmesh/network"
	proto "github.com/ystepanoff/nrfmesh/protocol"
)

// RenewAddress drops the current address and asks the mesh for a new one,
// polling one tree level deeper on each try, until it succeeds or timeout
// passes. It gives up at once if the radio still holds unread frames.
func (m *Mesh) RenewAddress(timeout time.Duration) (bool, error) {
	radio := m.net.Radio()
	if _, avail, err := radio.Available(); err != nil || avail {
		return false, err
	}
	if err := radio.StopListening(); err != nil {
		return false, err
	}
	m.net.SetFlags(network.FlagBypassHolds)
	defer m.net.ClearFlags(network.FlagBypassHolds)
	time.Sleep(10 * time.Millisecond)

	if err := m.resetAddress(); err != nil {
		return false, err
	}

	start := time.Now()
	var counter, total int
	for {
		ok, err := m.requestAddress(uint8(counter))
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		if time.Since(start) > timeout {
			m.log.Warn("address renewal timed out", "after", timeout)
			return false, nil
		}
		time.Sleep(time.Duration(50+((total+1)*(counter+1))*2) * time.Millisecond)
		counter = (counter + 1) % proto.MeshMaxPolls
		total = (total + 1) % 10
	}
}

func (m *Mesh) resetAddress() error {
	if _, err := m.net.Begin(network.KeepChannel, proto.DefaultAddress); err != nil {
		return err
	}
	m.address = proto.DefaultAddress
	m.state = StateUnassigned
	return nil
}

func (m *Mesh) requestAddress(level uint8) (bool, error) {
	poll := m.net.NewHeader(proto.MulticastAddress, proto.TypePoll)
	if _, err := m.net.Multicast(&poll, nil, level); err != nil {
		return false, err
	}

	contacts := make([]proto.Address, 0, proto.MeshMaxPolls)
	deadline := time.Now().Add(pollWindow)
	for len(contacts) < proto.MeshMaxPolls && time.Now().Before(deadline) {
		typ, err := m.net.Update()
		if err != nil {
			return false, err
		}
		if typ != proto.TypePoll {
			time.Sleep(time.Millisecond)
			continue
		}
		if from := m.net.LastFrame().From; !slices.Contains(contacts, from) {
			contacts = append(contacts, from)
		}
	}
	if len(contacts) == 0 {
		m.log.Debug("no poll reply", "level", level)
		return false, nil
	}
	m.log.Debug("poll replies", "level", level, "contacts", len(contacts))

	var newAddr proto.Address
	for _, contact := range contacts {
		req := proto.Header{To: contact, Type: proto.TypeReqAddress, Reserved: m.cfg.NodeID}
		if _, err := m.net.WriteDirect(&req, nil, contact); err != nil {
			return false, err
		}
		addr, err := m.awaitResponse()
		if err != nil {
			return false, err
		}
		if addr != 0 {
			newAddr = addr
			m.log.Debug("address offered", "address", addr, "via", contact)
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if newAddr == 0 {
		return false, nil
	}

	m.state = StateProvisional
	if err := m.net.Radio().StopListening(); err != nil {
		return false, err
	}
	time.Sleep(10 * time.Millisecond)
	if _, err := m.net.Begin(network.KeepChannel, newAddr); err != nil {
		return false, err
	}
	m.address = newAddr

	for attempt := 1; ; attempt++ {
		confirm := m.net.NewHeader(proto.RootAddress, proto.TypeAddrConfirm)
		ok, err := m.net.Write(&confirm, nil)
		if err != nil {
			return false, err
		}
		if ok {
			break
		}
		if attempt >= confirmAttempts {
			m.log.Debug("address confirm failed", "address", newAddr)
			return false, m.resetAddress()
		}
		time.Sleep(confirmDelay)
	}

	m.state = StateAssigned
	m.log.Info("address assigned", "address", newAddr)
	return true, nil
}

// awaitResponse waits for an ADDR_RESPONSE meant for this node and returns
// the offered address, or 0 if none came.
func (m *Mesh) awaitResponse() (proto.Address, error) {
	deadline := time.Now().Add(requestWindow)
	for time.Now().Before(deadline) {
		typ, err := m.net.Update()
		if err != nil {
			return 0, err
		}
		if typ != proto.TypeAddrResponse {
			time.Sleep(time.Millisecond)
			continue
		}
		f := m.net.LastFrame()
		if f.Reserved != m.cfg.NodeID || len(f.Payload) < 2 {
			m.log.Debug("address response for another node", "for", f.Reserved)
			continue
		}
		addr := proto.Address(binary.LittleEndian.Uint16(f.Payload))
		if addr == 0 || !addr.Valid() {
			continue
		}
		return addr, nil
	}
	return 0, nil
}

// ReleaseAddress tells the root this node is leaving and drops back to the
// default address.
func (m *Mesh) ReleaseAddress() (bool, error) {
	if m.address == proto.DefaultAddress {
		return false, nil
	}
	h := m.net.NewHeader(proto.RootAddress, proto.TypeAddrRelease)
	ok, err := m.net.Write(&h, nil)
	if err != nil || !ok {
		return false, err
	}
	if err := m.resetAddress(); err != nil {
		return false, err
	}
	m.log.Info("address released")
	return true, nil
}

// CheckConnection pings the root. A full receive FIFO or held traffic
// counts as connected. If the root cannot be reached the radio stops
// listening until the address is renewed.
func (m *Mesh) CheckConnection() (bool, error) {
	if m.isRoot() {
		return true, nil
	}
	radio := m.net.Radio()
	ok := false
	for i := 0; i < pingAttempts && m.address != proto.DefaultAddress; i++ {
		if _, err := m.Update(); err != nil {
			return false, err
		}
		full, err := radio.RxFifoFull()
		if err != nil {
			return false, err
		}
		if full || m.net.Flags()&network.FlagHoldIncoming != 0 {
			return true, nil
		}
		h := m.net.NewHeader(proto.RootAddress, proto.TypePing)
		ok, err = m.net.Write(&h, nil)
		if err != nil {
			return false, err
		}
		if ok {
			break
		}
		time.Sleep(pingDelay)
	}
	if !ok {
		m.log.Warn("root unreachable", "address", m.address)
		if err := radio.StopListening(); err != nil {
			return false, err
		}
	}
	return ok, nil
}
