package pipe

import "testing"

func TestOpenRefcountWriteAndClose(t *testing.T) {
	h, err := OpenRefcount(NewSimDialer(), 42)
	if err != nil {
		t.Fatalf("OpenRefcount: %v", err)
	}
	if !h.Valid() {
		t.Fatal("expected a valid handle")
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestRefcountHandleDup(t *testing.T) {
	h, err := OpenRefcount(NewSimDialer(), 7)
	if err != nil {
		t.Fatalf("OpenRefcount: %v", err)
	}
	defer h.Close()

	dup, err := h.Dup()
	if err != nil {
		t.Fatalf("Dup: %v", err)
	}
	defer dup.Close()

	if dup.Fd() == h.Fd() {
		t.Fatal("Dup returned the same fd as the original")
	}
	if !dup.Valid() {
		t.Fatal("expected duped handle to be valid")
	}
}

func TestNoRefcountIsInvalid(t *testing.T) {
	if NoRefcount.Valid() {
		t.Fatal("NoRefcount must not be Valid")
	}
	if err := NoRefcount.Close(); err != nil {
		t.Fatalf("closing NoRefcount should be a no-op: %v", err)
	}
}

func TestDupOfNoRefcountStaysInvalid(t *testing.T) {
	dup, err := NoRefcount.Dup()
	if err != nil {
		t.Fatalf("Dup: %v", err)
	}
	if dup.Valid() {
		t.Fatal("Dup of NoRefcount must remain invalid")
	}
}
