package nodelist

import (
	"slices"
	"testing"
)

func TestSplit(t *testing.T) {
	xs, err := Split("c1-[1-3,5],gpu1,b[1,2].hpc")
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(xs, []string{"c1-[1-3,5]", "gpu1", "b[1,2].hpc"}) {
		t.Fatalf("Split #1: %v", xs)
	}
	xs, err = Split("")
	if err != nil || len(xs) != 0 {
		t.Fatalf("Split #2: %v %v", xs, err)
	}
	for _, bad := range []string{"a[1", "a]", "a[[1]]", ",a", "a,", "a,,b"} {
		if xs, err := Split(bad); err == nil {
			t.Fatalf("Should fail: %s %v", bad, xs)
		}
	}
}

func TestExpand(t *testing.T) {
	xs, err := Expand("c1-[1-3,5]")
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(xs, []string{"c1-1", "c1-2", "c1-3", "c1-5"}) {
		t.Fatalf("Expand #1: %v", xs)
	}
	xs, err = Expand("r[1-2]c[08-10]")
	if err != nil {
		t.Fatal(err)
	}
	expect := []string{"r1c08", "r1c09", "r1c10", "r2c08", "r2c09", "r2c10"}
	if !slices.Equal(xs, expect) {
		t.Fatalf("Expand #2: %v", xs)
	}
	xs, err = Expand("login")
	if err != nil || !slices.Equal(xs, []string{"login"}) {
		t.Fatalf("Expand #3: %v %v", xs, err)
	}
	for _, bad := range []string{"a[3-1]", "a[x]", "a[1", "a[]", "a[1,]"} {
		if xs, err := Expand(bad); err == nil {
			t.Fatalf("Should fail: %s %v", bad, xs)
		}
	}
}

func TestExpandList(t *testing.T) {
	xs, err := ExpandList("a[1-2],b")
	if err != nil || !slices.Equal(xs, []string{"a1", "a2", "b"}) {
		t.Fatalf("ExpandList: %v %v", xs, err)
	}
}

func TestShort(t *testing.T) {
	if s := Short("r3c4cn02.hopper.antwerpen.vsc"); s != "r3c4cn02" {
		t.Fatalf("Short: %s", s)
	}
	if s := Short("n01"); s != "n01" {
		t.Fatalf("Short: %s", s)
	}
}
