package protocol

import "testing"

func TestSeqNumNewerThan(t *testing.T) {
	tests := []struct {
		name  string
		a, b  SeqNum
		newer bool
	}{
		{"adjacent", 1, 0, true},
		{"adjacent reversed", 0, 1, false},
		{"equal", 5, 5, false},
		{"large gap", 30000, 10, true},
		{"wraparound newer", 2, 65534, true},
		{"wraparound older", 65534, 2, false},
		{"exact half range", 32768, 0, true},
		{"just past half range", 32769, 0, false},
		{"max against zero", 65535, 0, false},
		{"zero against max", 0, 65535, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.NewerThan(tt.b); got != tt.newer {
				t.Errorf("SeqNum(%d).NewerThan(%d) = %v, want %v", tt.a, tt.b, got, tt.newer)
			}
		})
	}
}

func TestSeqNumDiff(t *testing.T) {
	tests := []struct {
		a, b SeqNum
		want int16
	}{
		{5, 3, 2},
		{3, 5, -2},
		{0, 65535, 1},
		{65535, 0, -1},
		{0, 0, 0},
		{100, 65000, 636},
	}

	for _, tt := range tests {
		if got := tt.a.Diff(tt.b); got != tt.want {
			t.Errorf("SeqNum(%d).Diff(%d) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestSeqNumNextWraps(t *testing.T) {
	if got := SeqNum(65535).Next(); got != 0 {
		t.Errorf("Next() after max = %d, want 0", got)
	}
	if !SeqNum(0).NewerThan(65535) {
		t.Error("wrapped sequence should compare newer than its predecessor")
	}
}
