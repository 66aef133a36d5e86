package protocol

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	body := []byte("hello")
	frame, err := EncodePacket(7, body)
	if err != nil {
		t.Fatalf("EncodePacket: %v", err)
	}
	if len(frame) != HeaderSize+len(body) {
		t.Fatalf("unexpected frame length %d", len(frame))
	}
	h := DecodeHeader(frame)
	if err := h.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	pkt := Decode(frame)
	if pkt.ID != 7 || string(pkt.Body) != "hello" {
		t.Fatalf("unexpected packet: %+v", pkt)
	}
}

func TestEncodePacketTooLarge(t *testing.T) {
	body := make([]byte, MaxPacketSize)
	if _, err := EncodePacket(1, body); err != ErrPacketTooLarge {
		t.Fatalf("expected ErrPacketTooLarge, got %v", err)
	}
}

func TestHeaderValidateBounds(t *testing.T) {
	tooSmall := Header{Size: 3, ID: 1}
	if err := tooSmall.Validate(); err != ErrPacketTooSmall {
		t.Fatalf("expected ErrPacketTooSmall, got %v", err)
	}

	atMax := Header{Size: MaxPacketSize, ID: 1}
	if err := atMax.Validate(); err != nil {
		t.Fatalf("expected MaxPacketSize to validate, got %v", err)
	}

	overMax := Header{Size: MaxPacketSize + 1, ID: 1}
	if err := overMax.Validate(); err != ErrPacketTooLarge {
		t.Fatalf("expected ErrPacketTooLarge, got %v", err)
	}
}
