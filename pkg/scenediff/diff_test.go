package scenediff

import "testing"

func TestComputeIdenticalText(t *testing.T) {
	text := "The hall was dark.\nMira lit the lamp.\nShe sat by the window.\n"
	d := Compute(text, text)
	if len(d.Mapping) != 3 {
		t.Fatalf("Mapping = %v, want identity over 3 lines", d.Mapping)
	}
	for i := 1; i <= 3; i++ {
		if d.Mapping[i] != i {
			t.Errorf("Mapping[%d] = %d, want %d", i, d.Mapping[i], i)
		}
	}
	if len(d.Deleted) != 0 || len(d.Inserted) != 0 {
		t.Errorf("Deleted = %v, Inserted = %v, want empty", d.Deleted, d.Inserted)
	}
}

func TestComputeDeletion(t *testing.T) {
	oldText := "The hall was dark.\nMira lit the lamp.\nThe wick sputtered.\nShe sat by the window.\n"
	newText := "The hall was dark.\nShe sat by the window.\n"
	d := Compute(oldText, newText)

	if !d.Deleted[2] || !d.Deleted[3] {
		t.Errorf("Deleted = %v, want lines 2 and 3", d.Deleted)
	}
	if d.Mapping[1] != 1 {
		t.Errorf("Mapping[1] = %d, want 1", d.Mapping[1])
	}
	if d.Mapping[4] != 2 {
		t.Errorf("Mapping[4] = %d, want 2", d.Mapping[4])
	}
	if _, ok := d.Mapping[2]; ok {
		t.Error("deleted line 2 should not be in Mapping")
	}
	if len(d.Inserted) != 0 {
		t.Errorf("Inserted = %v, want empty", d.Inserted)
	}
}

func TestComputeInsertion(t *testing.T) {
	oldText := "The hall was dark.\nShe sat by the window.\n"
	newText := "The hall was dark.\nMira lit the lamp.\nThe wick sputtered.\nShe sat by the window.\n"
	d := Compute(oldText, newText)

	if !d.Inserted[2] || !d.Inserted[3] {
		t.Errorf("Inserted = %v, want lines 2 and 3", d.Inserted)
	}
	if d.Mapping[1] != 1 || d.Mapping[2] != 4 {
		t.Errorf("Mapping = %v, want 1→1, 2→4", d.Mapping)
	}
	if len(d.Deleted) != 0 {
		t.Errorf("Deleted = %v, want empty", d.Deleted)
	}
}

func TestComputeChangedLine(t *testing.T) {
	oldText := "The hall was dark.\nMira lit the lamp.\nShe sat by the window.\n"
	newText := "The hall was dark.\nMira lit a fresh candle.\nShe sat by the window.\n"
	d := Compute(oldText, newText)

	if !d.Deleted[2] {
		t.Errorf("Deleted = %v, want the rewritten line 2", d.Deleted)
	}
	if !d.Inserted[2] {
		t.Errorf("Inserted = %v, want replacement line 2", d.Inserted)
	}
	if d.Mapping[1] != 1 {
		t.Errorf("Mapping[1] = %d, want 1", d.Mapping[1])
	}
}

func TestComputeFromEmpty(t *testing.T) {
	d := Compute("", "The hall was dark.\n")
	if len(d.Mapping) != 0 || len(d.Deleted) != 0 {
		t.Errorf("Mapping = %v, Deleted = %v, want empty", d.Mapping, d.Deleted)
	}
	if !d.Inserted[1] {
		t.Errorf("Inserted = %v, want line 1", d.Inserted)
	}
}

func TestCountLines(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"one line\n", 1},
		{"no trailing newline", 1},
		{"a\nb\nc\n", 3},
		{"a\nb\nc", 3},
	}
	for _, tt := range tests {
		if got := countLines(tt.text); got != tt.want {
			t.Errorf("countLines(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}
