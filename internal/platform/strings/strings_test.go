package strings

import "testing"

func TestIfEmpty(t *testing.T) {
	t.Parallel()

	in := []string{"GET", "POST"}
	if got := IfEmpty(in, []string{"HEAD"}); len(got) != 2 || got[1] != "POST" {
		t.Fatalf("IfEmpty returned wrong slice: %#v", got)
	}
	if got := IfEmpty(nil, []string{"HEAD"}); len(got) != 1 || got[0] != "HEAD" {
		t.Fatalf("IfEmpty did not return default: %#v", got)
	}
}

func TestSQLNull(t *testing.T) {
	t.Parallel()

	if SQLNull("  \t") != nil {
		t.Fatal("blank should map to nil")
	}
	if got := SQLNull("fit failed"); got != "fit failed" {
		t.Fatalf("got %v", got)
	}
}
