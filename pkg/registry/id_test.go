package registry

import "testing"

func TestDeriveID(t *testing.T) {
	cases := []struct {
		fields []string
		want   string
	}{
		{[]string{"Echo", "echoes input"}, "78bab599-e789-58ec-88b9-f6bcc7aaa659"},
		{[]string{"Math Solver Agent", "Solves math problems"}, "c8d50780-9377-5bbe-9b09-ed1881c7d4f8"},
	}
	for _, tc := range cases {
		if got := DeriveID(tc.fields...); got != tc.want {
			t.Errorf("DeriveID(%q) = %s, want %s", tc.fields, got, tc.want)
		}
	}
	if DeriveID("a", "b") != DeriveID("ab") {
		t.Errorf("fields are concatenated without a separator")
	}
	if DeriveID("Echo", "echoes input") == DeriveID("Echo", "echoes output") {
		t.Errorf("different descriptions must give different ids")
	}
}

func TestIsDerivedID(t *testing.T) {
	if !IsDerivedID(DeriveID("Echo")) {
		t.Errorf("derived id not recognised")
	}
	for _, s := range []string{"Echo", "", "123e4567-e89b-42d3-a456-426614174000"} {
		if IsDerivedID(s) {
			t.Errorf("%q should not be a derived id", s)
		}
	}
}
