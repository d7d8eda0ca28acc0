package l2frames

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// WriteASC writes the frame's valid points as CloudCompare ASCII: one
// "x y z intensity ring timestamp" row per point.
func WriteASC(w io.Writer, f *Frame) (int, error) {
	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintf(bw, "//X Y Z Intensity Ring Timestamp\n"); err != nil {
		return 0, err
	}
	n := 0
	var werr error
	f.Each(func(_ int, p *Point) {
		if werr != nil {
			return
		}
		_, werr = fmt.Fprintf(bw, "%.4f %.4f %.4f %d %d %.6f\n", p.X, p.Y, p.Z, p.Intensity, p.Ring, p.Timestamp)
		n++
	})
	if werr != nil {
		return n, werr
	}
	return n, bw.Flush()
}

// ExportASC writes the frame to dir under a name derived from its index and
// host timestamp, returning the path written.
func ExportASC(dir string, f *Frame) (string, error) {
	if f == nil || f.PointCount == 0 {
		return "", fmt.Errorf("empty frame")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	ts := f.HostTimestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	name := fmt.Sprintf("frame_%06d_%s.asc", f.Index, ts.UTC().Format("20060102T150405.000"))
	path := filepath.Join(dir, name)

	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := WriteASC(file, f); err != nil {
		file.Close()
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if err := file.Close(); err != nil {
		return "", err
	}
	return path, nil
}
