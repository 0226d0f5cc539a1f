package protocol

import (
	"bytes"
	"io"
	"testing"
)

func TestKindString(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindGetClock, "GetClock"},
		{KindGetEvents, "GetEvents"},
		{KindPushEvents, "PushEvents"},
		{KindSendTab, "SendTab"},
		{KindClock, "Clock"},
		{KindEvents, "Events"},
		{KindAck, "Ack"},
		{KindTabReceived, "TabReceived"},
		{KindError, "Error"},
		{Kind(0xFF), "Kind(255)"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("Kind(%d).String() = %s, want %s", tt.kind, got, tt.want)
		}
	}
}

func TestIsRequest(t *testing.T) {
	requests := []Kind{KindGetClock, KindGetEvents, KindPushEvents, KindSendTab}
	responses := []Kind{KindClock, KindEvents, KindAck, KindTabReceived, KindError}

	for _, k := range requests {
		if !IsRequest(k) {
			t.Errorf("IsRequest(%s) = false, want true", k)
		}
	}
	for _, k := range responses {
		if IsRequest(k) {
			t.Errorf("IsRequest(%s) = true, want false", k)
		}
	}
}

func TestFrameEncodeDecodeRoundTrip(t *testing.T) {
	f := &Frame{Kind: KindAck, RequestID: 42, Body: []byte(`{"count":3}`)}

	data, err := f.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Kind != f.Kind || decoded.RequestID != f.RequestID || !bytes.Equal(decoded.Body, f.Body) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", decoded, f)
	}
}

func TestFrameTooLarge(t *testing.T) {
	f := &Frame{Kind: KindEvents, Body: make([]byte, MaxPayloadSize+1)}
	if _, err := f.Encode(); err == nil {
		t.Fatal("expected ErrFrameTooLarge, got nil")
	}
}

func TestDecodeHeaderTooShort(t *testing.T) {
	if _, _, _, _, err := DecodeHeader([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for short header, got nil")
	}
}

func TestMessageRoundTripEachKind(t *testing.T) {
	title := "Example"
	bodies := []Body{
		GetClock{},
		GetEvents{Clock: []byte(`{"A":1}`)},
		PushEvents{Events: []SecureFrame{[]byte(`{"version":2}`)}},
		SendTab{URL: "https://example.com", Title: &title, FromDevice: "A"},
		Clock{Clock: []byte(`{"A":1}`), DeviceID: "A", DeviceName: "laptop"},
		Events{Events: []SecureFrame{[]byte(`{"version":2}`)}},
		Ack{Count: 2},
		TabReceived{},
		Error{Message: "boom"},
	}

	for _, body := range bodies {
		data, err := EncodeMessage(7, body)
		if err != nil {
			t.Fatalf("EncodeMessage(%s): %v", body.Kind(), err)
		}
		msg, err := DecodeMessage(data)
		if err != nil {
			t.Fatalf("DecodeMessage(%s): %v", body.Kind(), err)
		}
		if msg.RequestID != 7 {
			t.Fatalf("%s: request id = %d, want 7", body.Kind(), msg.RequestID)
		}
		if msg.Body.Kind() != body.Kind() {
			t.Fatalf("%s: decoded kind = %s", body.Kind(), msg.Body.Kind())
		}
	}
}

func TestDecodeMessageUnknownKind(t *testing.T) {
	f := &Frame{Kind: Kind(0xFE), Body: []byte(`{}`)}
	data, err := f.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := DecodeMessage(data); err == nil {
		t.Fatal("expected ErrUnknownMessageKind, got nil")
	}
}

func TestFrameReaderWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewFrameWriter(&buf)
	r := NewFrameReader(&buf)

	if err := w.WriteMessage(1, GetClock{}); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	if err := w.WriteMessage(2, Ack{Count: 5}); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	msg1, err := r.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage 1: %v", err)
	}
	if msg1.RequestID != 1 || msg1.Body.Kind() != KindGetClock {
		t.Fatalf("unexpected first message: %+v", msg1)
	}

	msg2, err := r.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage 2: %v", err)
	}
	ack, ok := msg2.Body.(Ack)
	if !ok || ack.Count != 5 {
		t.Fatalf("unexpected second message: %+v", msg2)
	}

	if _, err := r.ReadMessage(); err != io.EOF {
		t.Fatalf("expected io.EOF after last message, got %v", err)
	}
}
