package msgnet

import (
	"errors"
	"strings"
	"testing"
)

func TestStringMessage_RoundTrip(t *testing.T) {
	texts := []string{
		"",
		"Hello from client!",
		"zażółć gęślą jaźń",
		"日本語テキスト",
		"emoji 🚀 and \x00 nul",
		strings.Repeat("x", 70000),
	}

	for _, text := range texts {
		data, err := NewStringMessage(text).MarshalBinary()
		if err != nil {
			t.Fatalf("MarshalBinary failed: %v", err)
		}

		var got StringMessage
		if err = got.UnmarshalBinary(data); err != nil {
			t.Fatalf("UnmarshalBinary failed: %v", err)
		}
		if got.Text != text {
			t.Errorf("round trip = %q, want %q", got.Text, text)
		}
	}
}

func TestStringMessage_AppendBinary(t *testing.T) {
	prefix := []byte{0xAA}
	b, err := NewStringMessage("hi").AppendBinary(prefix)
	if err != nil {
		t.Fatalf("AppendBinary failed: %v", err)
	}

	want := []byte{0xAA, 0, 0, 0, 2, 'h', 'i'}
	if string(b) != string(want) {
		t.Errorf("AppendBinary = %v, want %v", b, want)
	}
}

func TestStringMessage_Malformed(t *testing.T) {
	cases := map[string][]byte{
		"short":       {0, 0},
		"overflow":    {0, 0, 0, 9, 'a'},
		"invalid utf": {0, 0, 0, 1, 0xff},
	}

	for name, data := range cases {
		var m StringMessage
		if err := m.UnmarshalBinary(data); !errors.Is(err, ErrMalformedMessage) {
			t.Errorf("%s: error = %v, want ErrMalformedMessage", name, err)
		}
	}
}

func TestStringMessage_String(t *testing.T) {
	if got := NewStringMessage("x").String(); got != "stringMsg:x" {
		t.Errorf("String() = %q", got)
	}
}

func TestStringMessage_InvalidUTF8(t *testing.T) {
	m := NewStringMessage("ok\xff")

	if _, err := m.MarshalBinary(); !errors.Is(err, ErrMalformedMessage) {
		t.Errorf("MarshalBinary error = %v, want ErrMalformedMessage", err)
	}
	if _, err := m.AppendBinary(nil); !errors.Is(err, ErrMalformedMessage) {
		t.Errorf("AppendBinary error = %v, want ErrMalformedMessage", err)
	}
}
