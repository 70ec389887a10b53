package platform

import "testing"

func TestRoundUpToPage(t *testing.T) {
	p := uint64(PageSize())

	tests := []struct {
		in, want uint64
	}{
		{0, 0},
		{1, p},
		{p, p},
		{p + 1, 2 * p},
		{3*p - 1, 3 * p},
	}
	for _, tt := range tests {
		if got := RoundUpToPage(tt.in); got != tt.want {
			t.Errorf("RoundUpToPage(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestReserveCommitDecommit(t *testing.T) {
	size := uint64(4 * PageSize())
	mem, err := ReserveAddressSpace(size)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	defer func() {
		if err := ReleaseAddressSpace(mem); err != nil {
			t.Errorf("release: %v", err)
		}
	}()

	// Commit the first two pages and write through them.
	committed := mem[:2*PageSize()]
	if err := CommitPages(committed); err != nil {
		t.Fatalf("commit: %v", err)
	}
	committed[0] = 0xaa
	committed[len(committed)-1] = 0xbb

	if err := DecommitPages(committed); err != nil {
		t.Fatalf("decommit: %v", err)
	}

	// Recommitted pages must read as zero.
	if err := CommitPages(committed); err != nil {
		t.Fatalf("recommit: %v", err)
	}
	if committed[0] != 0 || committed[len(committed)-1] != 0 {
		t.Errorf("recommitted pages not zeroed: %x %x", committed[0], committed[len(committed)-1])
	}
}
