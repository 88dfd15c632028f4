package buffer

import (
	"bytes"
	"testing"
)

func TestBoundedPushFreeDrop(t *testing.T) {
	r := NewRing(8)
	if got := r.Push([]byte("hello")); got != 5 {
		t.Fatalf("Push = %d, want 5", got)
	}
	if r.Free() != 3 {
		t.Fatalf("Free = %d, want 3", r.Free())
	}
	if got := r.Push([]byte("world!!")); got != 3 {
		t.Fatalf("short Push = %d, want 3 (truncated to free space)", got)
	}
	a, b := r.Slices()
	combined := append(append([]byte(nil), a...), b...)
	if string(combined) != "hellowor" {
		t.Fatalf("combined = %q, want %q", combined, "hellowor")
	}
	r.Drop(5)
	if r.Len() != 3 {
		t.Fatalf("Len after Drop(5) = %d, want 3", r.Len())
	}
	a, b = r.Slices()
	combined = append(append([]byte(nil), a...), b...)
	if string(combined) != "wor" {
		t.Fatalf("combined after drop = %q, want %q", combined, "wor")
	}
}

func TestWrapAroundSlices(t *testing.T) {
	r := NewRing(4)
	r.Push([]byte("ab"))
	r.Drop(1)             // head now sits at index 1; the ring is not empty, so it stays there
	r.Push([]byte("cde")) // wraps: "e" lands at index 0, past the array end
	a, b := r.Slices()
	combined := append(append([]byte(nil), a...), b...)
	if string(combined) != "bcde" {
		t.Fatalf("combined = %q, want %q", combined, "bcde")
	}
	if string(a) != "bcd" || string(b) != "e" {
		t.Fatalf("slices = %q, %q, want %q, %q", a, b, "bcd", "e")
	}
}

func TestSlicesFromOffset(t *testing.T) {
	r := NewRing(16)
	r.Push([]byte("0123456789"))
	a, b := r.SlicesFrom(4)
	combined := append(append([]byte(nil), a...), b...)
	if string(combined) != "456789" {
		t.Fatalf("SlicesFrom(4) = %q, want %q", combined, "456789")
	}
	a, b = r.SlicesFrom(10)
	if a != nil || b != nil {
		t.Fatalf("SlicesFrom(len) should be empty, got a=%q b=%q", a, b)
	}
}

func TestUnboundedGrows(t *testing.T) {
	r := NewUnboundedRing()
	big := bytes.Repeat([]byte("x"), 1000)
	r.PushAll(big)
	if r.Len() != 1000 {
		t.Fatalf("Len = %d, want 1000", r.Len())
	}
	a, b := r.Slices()
	if len(a)+len(b) != 1000 {
		t.Fatalf("slices total = %d, want 1000", len(a)+len(b))
	}
}

func TestPushAllPanicsWhenBoundedAndFull(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("PushAll should panic when the bounded ring has no room")
		}
	}()
	r := NewRing(2)
	r.PushAll([]byte("abc"))
}
