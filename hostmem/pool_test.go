package hostmem

import "testing"

func TestHostMallocFreeRoundTrip(t *testing.T) {
	p, err := NewPool(1 << 20)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer p.Close()

	blk, err := p.HostMalloc(4096)
	if err != nil {
		t.Fatalf("HostMalloc: %v", err)
	}
	if len(blk.GuestPtr) != int(blk.Size) {
		t.Fatalf("GuestPtr len = %d, want %d", len(blk.GuestPtr), blk.Size)
	}

	blk.GuestPtr[0] = 0xAB
	blk.GuestPtr[len(blk.GuestPtr)-1] = 0xCD
	if p.mem[blk.Offset] != 0xAB {
		t.Fatal("write through GuestPtr did not reach the arena")
	}

	if err := p.HostFree(blk); err != nil {
		t.Fatalf("HostFree: %v", err)
	}
}

func TestHostMallocRejectsNonPositiveSize(t *testing.T) {
	p, err := NewPool(1 << 20)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer p.Close()

	if _, err := p.HostMalloc(0); err == nil {
		t.Fatal("expected error for zero-size hostMalloc")
	}
}

func TestHostMallocExhaustion(t *testing.T) {
	p, err := NewPool(1 << 16)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer p.Close()

	var blocks []Block
	for {
		blk, err := p.HostMalloc(4096)
		if err != nil {
			break
		}
		blocks = append(blocks, blk)
	}
	if len(blocks) == 0 {
		t.Fatal("expected at least one successful allocation before exhaustion")
	}

	for _, blk := range blocks {
		if err := p.HostFree(blk); err != nil {
			t.Fatalf("HostFree: %v", err)
		}
	}

	blk, err := p.HostMalloc(1 << 16)
	if err != nil {
		t.Fatalf("HostMalloc after full free: %v", err)
	}
	if blk.Size != 1<<16 {
		t.Fatalf("Size = %d, want %d", blk.Size, 1<<16)
	}
}

func TestPhysAddrBiasMemoizes(t *testing.T) {
	p, err := NewPool(1 << 20)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer p.Close()

	calls := 0
	probe := func(b Block) (int64, error) {
		calls++
		return b.Offset + 0x1000, nil
	}

	bias, err := p.PhysAddrBias(probe)
	if err != nil {
		t.Fatalf("PhysAddrBias: %v", err)
	}
	if bias != 0x1000 {
		t.Fatalf("bias = %#x, want %#x", bias, 0x1000)
	}

	if _, err := p.PhysAddrBias(probe); err != nil {
		t.Fatalf("PhysAddrBias (second call): %v", err)
	}
	if calls != 1 {
		t.Fatalf("probe called %d times, want 1 (memoized)", calls)
	}
}
