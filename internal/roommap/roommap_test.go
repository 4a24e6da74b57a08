package roommap

import "testing"

func TestJoinPartAndMembers(t *testing.T) {
	m := New()
	m.Join("#general", "bob")
	m.Join("#general", "alice")
	m.Join("#other", "carol")

	got := m.Members("#general")
	want := []string{"alice", "bob"}
	if len(got) != len(want) {
		t.Fatalf("Members(#general) = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Members(#general)[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	m.Part("#general", "bob")
	got = m.Members("#general")
	if len(got) != 1 || got[0] != "alice" {
		t.Errorf("after Part, Members(#general) = %v, want [alice]", got)
	}
}

func TestMembersOfUnknownRoomIsNil(t *testing.T) {
	m := New()
	if got := m.Members("#nowhere"); got != nil {
		t.Errorf("Members(#nowhere) = %v, want nil", got)
	}
}

func TestPartDeletesEmptyRoom(t *testing.T) {
	m := New()
	m.Join("#x", "solo")
	m.Part("#x", "solo")
	if got := m.Members("#x"); got != nil {
		t.Errorf("expected empty room to be removed, got %v", got)
	}
}
