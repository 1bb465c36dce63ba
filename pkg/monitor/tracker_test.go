package monitor

import (
	"testing"

	"github.com/clusterbits/groupmon/pkg/groupchan"
)

func TestChangeKind(t *testing.T) {
	m := groupchan.Member{ID: "n1", PID: 1}
	cases := []struct {
		cc   groupchan.ConfigChange
		want string
	}{
		{groupchan.ConfigChange{Joined: []groupchan.Member{m}}, "join"},
		{groupchan.ConfigChange{Left: []groupchan.Member{m}}, "leave"},
		{groupchan.ConfigChange{Members: []groupchan.Member{m}}, "snapshot"},
	}
	for _, c := range cases {
		if got := changeKind(&c.cc); got != c.want {
			t.Fatalf("changeKind(%+v) = %q, want %q", c.cc, got, c.want)
		}
	}
}

func TestRenderMembers(t *testing.T) {
	if got := renderMembers(nil); got != "(none)" {
		t.Fatalf("empty list rendered %q", got)
	}
	got := renderMembers([]groupchan.Member{{ID: "a", PID: 1}, {ID: "b", PID: 2}})
	if got != "a/1, b/2" {
		t.Fatalf("rendered %q", got)
	}
}
