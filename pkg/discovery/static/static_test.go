package static

import "testing"

func TestNewDropsBlanks(t *testing.T) {
	d := New("10.0.0.1:7946", "", "  ", " 10.0.0.2:7946 ")
	got := d.Seeds()
	if len(got) != 2 || got[0] != "10.0.0.1:7946" || got[1] != "10.0.0.2:7946" {
		t.Fatalf("unexpected seeds: %#v", got)
	}
}

func TestSeedsReturnsCopy(t *testing.T) {
	d := New("10.0.0.1:7946")
	a := d.Seeds()
	a[0] = "mutated"
	if b := d.Seeds(); b[0] != "10.0.0.1:7946" {
		t.Fatalf("internal seed list was mutated: %#v", b)
	}
}
