package signaling_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pion/logging"
	"github.com/pion/transport/v4/vnet"
	"github.com/pion/webrtc/v4"

	"github.com/flintlabs/flint/internal/pollclient"
	"github.com/flintlabs/flint/internal/protocol"
	"github.com/flintlabs/flint/internal/signaling"
	"github.com/flintlabs/flint/internal/store"
)

// sdpMessage is the payload the peers in this test exchange through the
// broker. The broker itself never inspects it.
type sdpMessage struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Two WebRTC peers on an isolated virtual network rendezvous through the
// broker: the existing peer offers to the newcomer, SDP travels as signal
// payloads, and a data channel message round-trips at the end.
func TestWebRTCPeersRendezvousOverBroker(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := signaling.NewEngine(store.NewMemoryStore(), signaling.RealClock{}, time.Minute, log, nil)
	broker := httptest.NewServer(signaling.NewServer(engine, log, nil, 0).Handler())
	t.Cleanup(broker.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a, _, err := pollclient.Join(ctx, nil, broker.URL, "rtc")
	if err != nil {
		t.Fatalf("join a: %v", err)
	}
	b, _, err := pollclient.Join(ctx, nil, broker.URL, "rtc")
	if err != nil {
		t.Fatalf("join b: %v", err)
	}

	ev := waitForEvent(ctx, t, a, func(ev protocol.Event) bool {
		np, ok := ev.(protocol.NewPeer)
		return ok && np.Peer == b.PeerID()
	})
	if _, ok := ev.(protocol.NewPeer); !ok {
		t.Fatalf("event=%T, want NewPeer", ev)
	}

	router, err := vnet.NewRouter(&vnet.RouterConfig{
		CIDR:          "10.0.0.0/24",
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	t.Cleanup(func() {
		_ = router.Stop()
	})

	netA, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{"10.0.0.1"}})
	if err != nil {
		t.Fatalf("new net A: %v", err)
	}
	netB, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{"10.0.0.2"}})
	if err != nil {
		t.Fatalf("new net B: %v", err)
	}
	if err := router.AddNet(netA); err != nil {
		t.Fatalf("add net A: %v", err)
	}
	if err := router.AddNet(netB); err != nil {
		t.Fatalf("add net B: %v", err)
	}
	if err := router.Start(); err != nil {
		t.Fatalf("start router: %v", err)
	}

	pcA, err := newVNetAPI(t, netA).NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("new pc A: %v", err)
	}
	t.Cleanup(func() { _ = pcA.Close() })

	pcB, err := newVNetAPI(t, netB).NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("new pc B: %v", err)
	}
	t.Cleanup(func() { _ = pcB.Close() })

	dcA, err := pcA.CreateDataChannel("chat", nil)
	if err != nil {
		t.Fatalf("create datachannel: %v", err)
	}
	openA := make(chan struct{})
	dcA.OnOpen(func() { close(openA) })

	dcBCh := make(chan *webrtc.DataChannel, 1)
	pcB.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != "chat" {
			return
		}
		select {
		case dcBCh <- dc:
		default:
		}
	})

	// Non-trickle: gather everything, then ship one complete offer.
	offer, err := pcA.CreateOffer(nil)
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	gatherA := webrtc.GatheringCompletePromise(pcA)
	if err := pcA.SetLocalDescription(offer); err != nil {
		t.Fatalf("set local offer: %v", err)
	}
	<-gatherA
	sendSDP(ctx, t, a, b.PeerID(), "offer", pcA.LocalDescription().SDP)

	sig := waitSignalFrom(ctx, t, b, a.PeerID())
	var msg sdpMessage
	if err := json.Unmarshal(sig.Data, &msg); err != nil {
		t.Fatalf("unmarshal offer payload: %v", err)
	}
	if msg.Type != "offer" {
		t.Fatalf("payload type=%q, want offer", msg.Type)
	}
	if err := pcB.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  msg.SDP,
	}); err != nil {
		t.Fatalf("set remote offer: %v", err)
	}

	answer, err := pcB.CreateAnswer(nil)
	if err != nil {
		t.Fatalf("create answer: %v", err)
	}
	gatherB := webrtc.GatheringCompletePromise(pcB)
	if err := pcB.SetLocalDescription(answer); err != nil {
		t.Fatalf("set local answer: %v", err)
	}
	<-gatherB
	sendSDP(ctx, t, b, a.PeerID(), "answer", pcB.LocalDescription().SDP)

	sig = waitSignalFrom(ctx, t, a, b.PeerID())
	if err := json.Unmarshal(sig.Data, &msg); err != nil {
		t.Fatalf("unmarshal answer payload: %v", err)
	}
	if msg.Type != "answer" {
		t.Fatalf("payload type=%q, want answer", msg.Type)
	}
	if err := pcA.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  msg.SDP,
	}); err != nil {
		t.Fatalf("set remote answer: %v", err)
	}

	var dcB *webrtc.DataChannel
	select {
	case dcB = <-dcBCh:
	case <-ctx.Done():
		t.Fatalf("timed out waiting for remote datachannel")
	}

	received := make(chan string, 1)
	dcB.OnMessage(func(m webrtc.DataChannelMessage) {
		select {
		case received <- string(m.Data):
		default:
		}
	})

	select {
	case <-openA:
	case <-ctx.Done():
		t.Fatalf("timed out waiting for datachannel open")
	}

	if err := dcA.Send([]byte("hello through the broker")); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case got := <-received:
		if got != "hello through the broker" {
			t.Fatalf("received %q", got)
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for datachannel message")
	}
}

func waitForEvent(ctx context.Context, t *testing.T, c *pollclient.Client, match func(protocol.Event) bool) protocol.Event {
	t.Helper()
	for {
		events, err := c.Poll(ctx)
		if err != nil {
			t.Fatalf("poll: %v", err)
		}
		for _, ev := range events {
			if match(ev) {
				return ev
			}
		}
		select {
		case <-ctx.Done():
			t.Fatalf("timed out waiting for event")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func waitSignalFrom(ctx context.Context, t *testing.T, c *pollclient.Client, from protocol.PeerID) protocol.Signal {
	t.Helper()
	ev := waitForEvent(ctx, t, c, func(ev protocol.Event) bool {
		sig, ok := ev.(protocol.Signal)
		return ok && sig.Sender == from
	})
	return ev.(protocol.Signal)
}

func sendSDP(ctx context.Context, t *testing.T, c *pollclient.Client, to protocol.PeerID, typ, sdp string) {
	t.Helper()
	payload, err := json.Marshal(sdpMessage{Type: typ, SDP: sdp})
	if err != nil {
		t.Fatalf("marshal %s: %v", typ, err)
	}
	if err := c.Signal(ctx, to, payload); err != nil {
		t.Fatalf("signal %s: %v", typ, err)
	}
}

func newVNetAPI(t *testing.T, n *vnet.Net) *webrtc.API {
	t.Helper()
	se := webrtc.SettingEngine{}
	se.SetNet(n)

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		t.Fatalf("register codecs: %v", err)
	}

	return webrtc.NewAPI(
		webrtc.WithSettingEngine(se),
		webrtc.WithMediaEngine(mediaEngine),
	)
}
