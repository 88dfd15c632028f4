package seqnum

import "testing"

func TestLessThan(t *testing.T) {
	cases := []struct {
		a, b Value
		want bool
	}{
		{5, 10, true},
		{10, 5, false},
		{10, 10, false},
		{0xFFFFFFF0, 0x0000000C, true},  // crosses the 2^32 wrap
		{0x0000000C, 0xFFFFFFF0, false}, // reverse of the above
	}
	for _, c := range cases {
		if got := c.a.LessThan(c.b); got != c.want {
			t.Errorf("LessThan(%#x, %#x) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestInWindow(t *testing.T) {
	if !InWindow(99, 100, 200) {
		t.Error("100 should be inside (99, 200)")
	}
	if InWindow(99, 99, 200) {
		t.Error("99 is the open lower bound, should be excluded")
	}
	if InWindow(99, 200, 200) {
		t.Error("200 is the open upper bound, should be excluded")
	}
}

func TestAddAndSize(t *testing.T) {
	una := Value(0xFFFFFFF0)
	nxt := una.Add(32)
	if nxt != 0x0000000F+1 {
		t.Fatalf("una+32 = %#x, want %#x", nxt, 0x10)
	}
	if una.Size(nxt) != 32 {
		t.Fatalf("Size(una, nxt) = %d, want 32", una.Size(nxt))
	}
}

func TestWrapAroundAck(t *testing.T) {
	// Scenario 6 from the spec: una=nxt=0xFFFFFFF0, write 32 bytes,
	// peer ACKs seq=0x0000000C. 4 bytes should remain outstanding.
	una := Value(0xFFFFFFF0)
	nxt := una.Add(32)
	ack := Value(0x0000000C)
	if !(una.LessThanEq(ack) && ack.LessThanEq(nxt)) {
		t.Fatalf("ack %#x should fall within [una=%#x, nxt=%#x]", ack, una, nxt)
	}
	acked := una.Size(ack)
	if acked != 28 {
		t.Fatalf("acked = %d, want 28 (32 written - 4 still outstanding)", acked)
	}
	remaining := ack.Size(nxt)
	if remaining != 4 {
		t.Fatalf("remaining = %d, want 4", remaining)
	}
}
