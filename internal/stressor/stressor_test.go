package stressor

import (
	"testing"
	"time"
)

func TestExitFromCode(t *testing.T) {
	cases := []struct {
		code int
		want ExitStatus
	}{
		{0, ExitSuccess},
		{1, ExitFailure},
		{3, ExitNoResource},
		{4, ExitNotImplemented},
		{5, ExitSignaled},
		{2, ExitFailure},
		{42, ExitFailure},
	}
	for _, tc := range cases {
		if got := ExitFromCode(tc.code); got != tc.want {
			t.Fatalf("ExitFromCode(%d) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestClassString(t *testing.T) {
	if got := (ClassFilesystem | ClassOS).String(); got != "os,filesystem" {
		t.Fatalf("class string = %q", got)
	}
	if got := Class(0).String(); got != "none" {
		t.Fatalf("empty class string = %q", got)
	}
}

func TestRegistryCatalogHidesHelpers(t *testing.T) {
	Register(Info{Name: "zz-test-main", Class: ClassOS, Run: func(*Args) ExitStatus { return ExitSuccess }})
	Register(Info{Name: "zz-test-main/helper", Run: func(*Args) ExitStatus { return ExitSuccess }})

	if _, ok := Lookup("zz-test-main/helper"); !ok {
		t.Fatal("helper entry not found by lookup")
	}
	for _, info := range Catalog() {
		if info.Name == "zz-test-main/helper" {
			t.Fatal("helper entry leaked into catalog")
		}
	}

	found := false
	for _, name := range Names() {
		if name == "zz-test-main" {
			found = true
		}
	}
	if !found {
		t.Fatal("public entry missing from names")
	}
}

func TestRegisterPanics(t *testing.T) {
	expectPanic := func(name string, info Info) {
		t.Helper()
		defer func() {
			if recover() == nil {
				t.Fatalf("%s: expected panic", name)
			}
		}()
		Register(info)
	}

	expectPanic("empty name", Info{Run: func(*Args) ExitStatus { return ExitSuccess }})
	expectPanic("nil body", Info{Name: "zz-test-nil"})

	Register(Info{Name: "zz-test-dup", Run: func(*Args) ExitStatus { return ExitSuccess }})
	expectPanic("duplicate", Info{Name: "zz-test-dup", Run: func(*Args) ExitStatus { return ExitSuccess }})
}

func TestParseBytes(t *testing.T) {
	cases := []struct {
		in      string
		want    uint64
		wantErr bool
	}{
		{"4096", 4096, false},
		{"64k", 64 << 10, false},
		{"2M", 2 << 20, false},
		{"1g", 1 << 30, false},
		{"1t", 1 << 40, false},
		{"", 0, true},
		{"k", 0, true},
		{"12q", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseBytes(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("ParseBytes(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseBytes(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ParseBytes(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestArgsOptions(t *testing.T) {
	a := &Args{Options: map[string]string{
		"procs":     "3",
		"data-size": "64k",
		"verify":    "true",
		"interval":  "250ms",
		"bad":       "zzz",
	}}

	if v, err := a.OptInt("procs", 1); err != nil || v != 3 {
		t.Fatalf("OptInt = %d, %v", v, err)
	}
	if v, err := a.OptInt("missing", 7); err != nil || v != 7 {
		t.Fatalf("OptInt default = %d, %v", v, err)
	}
	if _, err := a.OptInt("bad", 0); err == nil {
		t.Fatal("OptInt should reject garbage")
	}
	if v, err := a.OptBytes("data-size", 0); err != nil || v != 64<<10 {
		t.Fatalf("OptBytes = %d, %v", v, err)
	}
	if v, err := a.OptBool("verify", false); err != nil || !v {
		t.Fatalf("OptBool = %v, %v", v, err)
	}
	if v, err := a.OptDuration("interval", 0); err != nil || v != 250*time.Millisecond {
		t.Fatalf("OptDuration = %v, %v", v, err)
	}
	if got := a.Opt("missing", "fallback"); got != "fallback" {
		t.Fatalf("Opt default = %q", got)
	}
}
