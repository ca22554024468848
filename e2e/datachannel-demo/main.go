// Command datachannel-demo is a minimal native flint peer. It joins a room,
// offers a WebRTC data channel to every peer that arrives after it, answers
// offers from peers that were there first, and prints every chat message it
// receives.
//
// Run a broker, then two copies of this program:
//
//	flintd &
//	go run ./e2e/datachannel-demo -room demo
//	go run ./e2e/datachannel-demo -room demo
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/flintlabs/flint/internal/pollclient"
	"github.com/flintlabs/flint/internal/protocol"
)

const pollInterval = 250 * time.Millisecond

type sdpMessage struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

func main() {
	var (
		brokerURL = flag.String("url", "http://127.0.0.1:3536", "base URL of the flint broker")
		room      = flag.String("room", "demo", "room to join")
		message   = flag.String("message", "hello from the flint demo", "chat message to send on connect")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, _, err := pollclient.Join(ctx, nil, *brokerURL, *room)
	if err != nil {
		fmt.Fprintf(os.Stderr, "join: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("joined room %q as %s\n", *room, client.PeerID())

	d := &demo{
		client:  client,
		api:     webrtc.NewAPI(),
		message: *message,
		conns:   map[protocol.PeerID]*webrtc.PeerConnection{},
	}
	defer d.closeAll()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Println("leaving")
			return
		case <-ticker.C:
		}

		events, err := client.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			fmt.Fprintf(os.Stderr, "poll: %v\n", err)
			os.Exit(1)
		}
		for _, ev := range events {
			d.handle(ctx, ev)
		}
	}
}

type demo struct {
	client  *pollclient.Client
	api     *webrtc.API
	message string
	conns   map[protocol.PeerID]*webrtc.PeerConnection
}

func (d *demo) handle(ctx context.Context, ev protocol.Event) {
	switch ev := ev.(type) {
	case protocol.NewPeer:
		fmt.Printf("peer %s arrived, sending offer\n", ev.Peer)
		if err := d.offer(ctx, ev.Peer); err != nil {
			fmt.Fprintf(os.Stderr, "offer to %s: %v\n", ev.Peer, err)
		}
	case protocol.PeerLeft:
		fmt.Printf("peer %s left\n", ev.Peer)
		if pc, ok := d.conns[ev.Peer]; ok {
			_ = pc.Close()
			delete(d.conns, ev.Peer)
		}
	case protocol.Signal:
		if err := d.onSignal(ctx, ev); err != nil {
			fmt.Fprintf(os.Stderr, "signal from %s: %v\n", ev.Sender, err)
		}
	}
}

// offer runs the initiating side: data channel, complete SDP, send.
func (d *demo) offer(ctx context.Context, peer protocol.PeerID) error {
	pc, err := d.api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return err
	}
	d.conns[peer] = pc

	dc, err := pc.CreateDataChannel("chat", nil)
	if err != nil {
		return err
	}
	d.wireChannel(peer, dc)

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return err
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return err
	}
	<-gathered

	return d.sendSDP(ctx, peer, "offer", pc.LocalDescription().SDP)
}

// onSignal runs the responding side for offers and completes the handshake
// for answers.
func (d *demo) onSignal(ctx context.Context, sig protocol.Signal) error {
	var msg sdpMessage
	if err := json.Unmarshal(sig.Data, &msg); err != nil {
		return err
	}

	switch msg.Type {
	case "offer":
		fmt.Printf("offer from %s, answering\n", sig.Sender)
		pc, err := d.api.NewPeerConnection(webrtc.Configuration{})
		if err != nil {
			return err
		}
		d.conns[sig.Sender] = pc
		peer := sig.Sender
		pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			if dc.Label() == "chat" {
				d.wireChannel(peer, dc)
			}
		})

		if err := pc.SetRemoteDescription(webrtc.SessionDescription{
			Type: webrtc.SDPTypeOffer,
			SDP:  msg.SDP,
		}); err != nil {
			return err
		}
		answer, err := pc.CreateAnswer(nil)
		if err != nil {
			return err
		}
		gathered := webrtc.GatheringCompletePromise(pc)
		if err := pc.SetLocalDescription(answer); err != nil {
			return err
		}
		<-gathered
		return d.sendSDP(ctx, peer, "answer", pc.LocalDescription().SDP)

	case "answer":
		pc, ok := d.conns[sig.Sender]
		if !ok {
			return fmt.Errorf("answer from %s without a pending offer", sig.Sender)
		}
		return pc.SetRemoteDescription(webrtc.SessionDescription{
			Type: webrtc.SDPTypeAnswer,
			SDP:  msg.SDP,
		})

	default:
		return fmt.Errorf("unknown payload type %q", msg.Type)
	}
}

func (d *demo) wireChannel(peer protocol.PeerID, dc *webrtc.DataChannel) {
	dc.OnOpen(func() {
		fmt.Printf("data channel to %s open\n", peer)
		if err := dc.SendText(d.message); err != nil {
			fmt.Fprintf(os.Stderr, "send to %s: %v\n", peer, err)
		}
	})
	dc.OnMessage(func(m webrtc.DataChannelMessage) {
		fmt.Printf("[%s] %s\n", peer, string(m.Data))
	})
}

func (d *demo) sendSDP(ctx context.Context, to protocol.PeerID, typ, sdp string) error {
	payload, err := json.Marshal(sdpMessage{Type: typ, SDP: sdp})
	if err != nil {
		return err
	}
	return d.client.Signal(ctx, to, payload)
}

func (d *demo) closeAll() {
	for _, pc := range d.conns {
		_ = pc.Close()
	}
}
