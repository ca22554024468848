package protocol

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func TestParseRequest_Signal(t *testing.T) {
	raw := `{"Signal":{"receiver":"` + string(peerB) + `","data":{"type":"answer","sdp":"v=0"}}}`

	got, err := ParseRequest([]byte(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := SignalRequest{Receiver: peerB, Data: json.RawMessage(`{"type":"answer","sdp":"v=0"}`)}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %#v, want %#v", got, want)
	}
}

func TestParseRequest_KeepAlive(t *testing.T) {
	got, err := ParseRequest([]byte(`"KeepAlive"`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, ok := got.(KeepAliveRequest); !ok {
		t.Fatalf("got %#v, want KeepAliveRequest", got)
	}
}

func TestParseRequest_CanonicalizesReceiver(t *testing.T) {
	upper := "5A2B2A72-F769-4A7C-9C5D-4631B3F83B90"
	got, err := ParseRequest([]byte(`{"Signal":{"receiver":"` + upper + `","data":1}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	sig, ok := got.(SignalRequest)
	if !ok {
		t.Fatalf("got %#v, want SignalRequest", got)
	}
	if sig.Receiver != peerA {
		t.Fatalf("receiver=%q, want %q", sig.Receiver, peerA)
	}
}

func TestParseRequest_RejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ``},
		{"whitespace", `   `},
		{"unknown string", `"GoAway"`},
		{"unknown tag", `{"Shout":{"receiver":"` + string(peerB) + `","data":1}}`},
		{"two tags", `{"Signal":{"receiver":"` + string(peerB) + `","data":1},"KeepAlive":1}`},
		{"unknown field", `{"Signal":{"receiver":"` + string(peerB) + `","data":1,"cc":"x"}}`},
		{"bad receiver", `{"Signal":{"receiver":"nope","data":1}}`},
		{"missing data", `{"Signal":{"receiver":"` + string(peerB) + `"}}`},
		{"array", `[1,2]`},
		{"truncated", `{"Signal":{"receiver":`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseRequest([]byte(tc.raw))
			if err == nil {
				t.Fatalf("expected error for %q", tc.raw)
			}
			if !errors.Is(err, ErrMalformedRequest) {
				t.Fatalf("err=%v, want ErrMalformedRequest", err)
			}
		})
	}
}

func TestMarshalRequest_RoundTrip(t *testing.T) {
	reqs := []Request{
		SignalRequest{Receiver: peerA, Data: json.RawMessage(`{"type":"offer"}`)},
		KeepAliveRequest{},
	}

	for _, req := range reqs {
		b, err := MarshalRequest(req)
		if err != nil {
			t.Fatalf("marshal %#v: %v", req, err)
		}
		got, err := ParseRequest(b)
		if err != nil {
			t.Fatalf("parse %s: %v", b, err)
		}
		if !reflect.DeepEqual(got, req) {
			t.Fatalf("round trip: got %#v, want %#v", got, req)
		}
	}
}

func TestParsePeerID(t *testing.T) {
	id, err := ParsePeerID("5A2B2A72-F769-4A7C-9C5D-4631B3F83B90")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if id != peerA {
		t.Fatalf("id=%q, want canonical lowercase %q", id, peerA)
	}

	if _, err := ParsePeerID("peer-7"); err == nil {
		t.Fatalf("expected error for non-uuid id")
	}

	fresh := NewPeerID()
	if _, err := ParsePeerID(string(fresh)); err != nil {
		t.Fatalf("generated id does not parse: %v", err)
	}
}
