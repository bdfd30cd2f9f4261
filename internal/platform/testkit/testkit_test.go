package testkit

import (
	"compress/gzip"
	"io"
	"os"
	"testing"
)

var clock = func() int { return 1 }

func TestSwapRestores(t *testing.T) {
	t.Run("swapped", func(t *testing.T) {
		Swap(t, &clock, func() int { return 99 })
		if clock() != 99 {
			t.Fatalf("swap did not take effect")
		}
	})
	if clock() != 1 {
		t.Fatalf("swap did not restore, got %d", clock())
	}
}

func TestMustPanic(t *testing.T) {
	MustPanic(t, func() { panic("boom") })
}

func TestWriteGzipRoundTrip(t *testing.T) {
	p := WriteGzip(t, t.TempDir(), "a/b/events.jsonl.gz", "{\"run\":1}\n")
	f, err := os.Open(p)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	zr, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip: %v", err)
	}
	b, _ := io.ReadAll(zr)
	MustContain(t, string(b), `"run":1`)
}

func TestNear(t *testing.T) {
	Near(t, 2.0000001, 2, 1e-6, "slope")
}
