package monitoring

import (
	"fmt"
	"testing"
	"time"
)

func TestThrottle(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var lines []string
	SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})

	now := time.Unix(1000, 0)
	th := NewThrottle(time.Second)
	th.now = func() time.Time { return now }

	th.Logf("bad packet %d", 1)
	th.Logf("bad packet %d", 2)
	th.Logf("bad packet %d", 3)
	now = now.Add(2 * time.Second)
	th.Logf("bad packet %d", 4)

	want := []string{"bad packet 1", "bad packet 4 (2 similar suppressed)"}
	if len(lines) != len(want) {
		t.Fatalf("lines = %q, want %q", lines, want)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("lines[%d] = %q, want %q", i, lines[i], want[i])
		}
	}
}
