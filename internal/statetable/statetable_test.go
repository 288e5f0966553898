package statetable

import (
	"testing"

	"github.com/lencsegabor/pdvtester/internal/wire"
)

func TestLearnCursorWraps(t *testing.T) {
	tbl, err := New(3)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < 5; i++ {
		tbl.Learn(wire.FourTuple{InitPort: uint16(i)})
	}
	if tbl.ValidEntries() != 3 {
		t.Fatalf("ValidEntries = %d, want 3 (saturated at capacity)", tbl.ValidEntries())
	}
	// cursor wrapped: slot 0 holds the 4th write (index 3), slot 1 the 5th (index 4).
	if tbl.Get(0).InitPort != 3 {
		t.Fatalf("slot 0 InitPort = %d, want 3", tbl.Get(0).InitPort)
	}
	if tbl.Get(1).InitPort != 4 {
		t.Fatalf("slot 1 InitPort = %d, want 4", tbl.Get(1).InitPort)
	}
}

func TestFilledRequiresFullCapacity(t *testing.T) {
	tbl, err := New(4)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < 3; i++ {
		tbl.Learn(wire.FourTuple{})
	}
	if tbl.Filled() {
		t.Fatalf("table reports Filled() with only 3/4 entries written")
	}
	tbl.Learn(wire.FourTuple{})
	if !tbl.Filled() {
		t.Fatalf("table reports not Filled() after exactly capacity entries written")
	}
}

func TestCursorIncreasingOrder(t *testing.T) {
	tbl, err := New(3)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < 3; i++ {
		tbl.Learn(wire.FourTuple{InitPort: uint16(i)})
	}
	c := NewCursor(Increasing, tbl.ValidEntries())
	var got []uint16
	for i := 0; i < 6; i++ {
		got = append(got, tbl.Get(c.Next()).InitPort)
	}
	want := []uint16{0, 1, 2, 0, 1, 2}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sequence[%d] = %d, want %d (full %v)", i, got[i], want[i], got)
		}
	}
}

func TestCursorSingleAlwaysFirst(t *testing.T) {
	tbl, _ := New(3)
	for i := 0; i < 3; i++ {
		tbl.Learn(wire.FourTuple{InitPort: uint16(i + 10)})
	}
	c := NewCursor(Single, tbl.ValidEntries())
	for i := 0; i < 4; i++ {
		if got := tbl.Get(c.Next()).InitPort; got != 10 {
			t.Fatalf("Single mode returned tuple with InitPort %d, want 10 (always first learned)", got)
		}
	}
}
