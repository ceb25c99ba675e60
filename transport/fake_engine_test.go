package transport

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/lcx/nagare/rudp"
)

// fakeEngine is a recording netEngine. It mimics the real engine's contract:
// Connect fires OnPeerConnected synchronously, Disconnect and Stop stay
// silent, hooks run on whatever goroutine the test drives them from.
type fakeEngine struct {
	mu    sync.Mutex
	hooks rudp.Hooks

	listened  bool
	connected bool
	stopped   bool

	failListen  error
	failConnect error

	peers       map[int]string
	sends       []fakeSend
	disconnects []int

	port int
}

type fakeSend struct {
	peerID int
	data   []byte
	method rudp.DeliveryMethod
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{peers: make(map[int]string), port: 40000}
}

// factory returns an engineFactory producing this instance and capturing the
// hooks the socket installs.
func (f *fakeEngine) factory() engineFactory {
	return func(cfg rudp.Config) netEngine {
		f.mu.Lock()
		f.hooks = cfg.Hooks
		f.mu.Unlock()
		return f
	}
}

func (f *fakeEngine) Listen(_ net.IP, _ net.IP, _ uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failListen != nil {
		return f.failListen
	}
	f.listened = true
	return nil
}

func (f *fakeEngine) Connect(_ string, _ uint16) error {
	f.mu.Lock()
	if f.failConnect != nil {
		err := f.failConnect
		f.mu.Unlock()
		return err
	}
	f.connected = true
	f.peers[rudp.ServerPeerID] = "127.0.0.1:40000"
	hook := f.hooks.OnPeerConnected
	f.mu.Unlock()

	if hook != nil {
		hook(rudp.ServerPeerID)
	}
	return nil
}

func (f *fakeEngine) Send(peerID int, data []byte, method rudp.DeliveryMethod) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.peers[peerID]; !ok {
		return rudp.ErrPeerNotFound
	}
	cp := append([]byte(nil), data...)
	f.sends = append(f.sends, fakeSend{peerID: peerID, data: cp, method: method})
	return nil
}

func (f *fakeEngine) Disconnect(peerID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.peers[peerID]; !ok {
		return rudp.ErrPeerNotFound
	}
	delete(f.peers, peerID)
	f.disconnects = append(f.disconnects, peerID)
	return nil
}

func (f *fakeEngine) Poll() {}

func (f *fakeEngine) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	f.peers = make(map[int]string)
}

func (f *fakeEngine) Port() int {
	return f.port
}

func (f *fakeEngine) IsConnected(peerID int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.peers[peerID]
	return ok
}

func (f *fakeEngine) PeerAddr(peerID int) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	addr, ok := f.peers[peerID]
	return addr, ok
}

func (f *fakeEngine) PeerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.peers)
}

func (f *fakeEngine) PeerIDs() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]int, 0, len(f.peers))
	for id := range f.peers {
		ids = append(ids, id)
	}
	return ids
}

// admit registers a peer as the real engine would after a successful
// handshake and fires OnPeerConnected.
func (f *fakeEngine) admit(peerID int) {
	f.mu.Lock()
	f.peers[peerID] = fmt.Sprintf("10.0.0.%d:51000", peerID)
	hook := f.hooks.OnPeerConnected
	f.mu.Unlock()
	if hook != nil {
		hook(peerID)
	}
}

// drop simulates a remote peer vanishing.
func (f *fakeEngine) drop(peerID int) {
	f.mu.Lock()
	delete(f.peers, peerID)
	hook := f.hooks.OnPeerDisconnected
	f.mu.Unlock()
	if hook != nil {
		hook(peerID, errors.New("timed out"))
	}
}

// deliver pushes inbound data through the socket's receive hook.
func (f *fakeEngine) deliver(peerID int, data []byte, method rudp.DeliveryMethod) {
	f.mu.Lock()
	hook := f.hooks.OnReceive
	f.mu.Unlock()
	if hook != nil {
		hook(peerID, data, method)
	}
}

func (f *fakeEngine) sentTo(peerID int) []fakeSend {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []fakeSend
	for _, s := range f.sends {
		if s.peerID == peerID {
			out = append(out, s)
		}
	}
	return out
}

func (f *fakeEngine) request(key string) *rudp.ConnectionRequest {
	return &rudp.ConnectionRequest{
		Key:        key,
		RemoteAddr: &net.UDPAddr{IP: net.IPv4(10, 0, 0, 9), Port: 51009},
	}
}

// recordingReceiver captures every transport callback. Payload slices are
// copied because the originals go back to the pool after the callback.
type recordingReceiver struct {
	mu sync.Mutex

	clientStates []LocalConnectionState
	serverStates []LocalConnectionState
	remote       []RemoteConnectionStateArgs
	clientData   []ClientReceivedDataArgs
	serverData   []ServerReceivedDataArgs
}

func (r *recordingReceiver) HandleClientConnectionState(args ClientConnectionStateArgs) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clientStates = append(r.clientStates, args.State)
}

func (r *recordingReceiver) HandleServerConnectionState(args ServerConnectionStateArgs) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.serverStates = append(r.serverStates, args.State)
}

func (r *recordingReceiver) HandleRemoteConnectionState(args RemoteConnectionStateArgs) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remote = append(r.remote, args)
}

func (r *recordingReceiver) HandleClientReceivedData(args ClientReceivedDataArgs) {
	r.mu.Lock()
	defer r.mu.Unlock()
	args.Data = append([]byte(nil), args.Data...)
	r.clientData = append(r.clientData, args)
}

func (r *recordingReceiver) HandleServerReceivedData(args ServerReceivedDataArgs) {
	r.mu.Lock()
	defer r.mu.Unlock()
	args.Data = append([]byte(nil), args.Data...)
	r.serverData = append(r.serverData, args)
}

func (r *recordingReceiver) lastClientState() (LocalConnectionState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.clientStates) == 0 {
		return 0, false
	}
	return r.clientStates[len(r.clientStates)-1], true
}

func (r *recordingReceiver) clientStateSeq() []LocalConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]LocalConnectionState(nil), r.clientStates...)
}

func (r *recordingReceiver) serverStateSeq() []LocalConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]LocalConnectionState(nil), r.serverStates...)
}

func (r *recordingReceiver) remoteSeq() []RemoteConnectionStateArgs {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RemoteConnectionStateArgs(nil), r.remote...)
}

func (r *recordingReceiver) serverPackets() []ServerReceivedDataArgs {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ServerReceivedDataArgs(nil), r.serverData...)
}

func (r *recordingReceiver) clientPackets() []ClientReceivedDataArgs {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ClientReceivedDataArgs(nil), r.clientData...)
}
