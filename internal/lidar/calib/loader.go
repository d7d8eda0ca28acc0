package calib

import (
	"embed"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Pandar40PChannels is the channel count of the bundled tables.
const Pandar40PChannels = 40

//go:embed sensor_configs/*.csv
var embeddedConfigs embed.FS

const (
	defaultAngleFile    = "sensor_configs/Pandar40P_Angle_Correction.csv"
	defaultFiretimeFile = "sensor_configs/Pandar40P_Firetime_Correction.csv"
)

type opener func(name string) (io.ReadCloser, error)

// LoadDefault builds a Table from the nominal Pandar40P corrections compiled
// into the binary.
func LoadDefault() (*Table, error) {
	open := func(name string) (io.ReadCloser, error) { return embeddedConfigs.Open(name) }
	return load(open, defaultAngleFile, defaultFiretimeFile, Pandar40PChannels)
}

// LoadFiles builds a Table from correction files on disk. firetimePath may be
// empty, in which case firetime correction is unavailable.
func LoadFiles(anglePath, firetimePath string, channels int) (*Table, error) {
	open := func(name string) (io.ReadCloser, error) { return os.Open(name) }
	return load(open, anglePath, firetimePath, channels)
}

func load(open opener, anglePath, firetimePath string, channels int) (*Table, error) {
	f, err := open(anglePath)
	if err != nil {
		return nil, fmt.Errorf("open angle corrections: %w", err)
	}
	angles, err := ParseAngleCSV(f, channels)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", anglePath, err)
	}

	var firetimes []FiretimeCorrection
	if firetimePath != "" {
		f, err := open(firetimePath)
		if err != nil {
			return nil, fmt.Errorf("open firetime corrections: %w", err)
		}
		firetimes, err = ParseFiretimeCSV(f, channels)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", firetimePath, err)
		}
	}
	return NewTable(angles, firetimes, channels)
}

// ParseAngleCSV reads a "Channel,Elevation,Azimuth" correction file.
func ParseAngleCSV(r io.Reader, channels int) ([]AngleCorrection, error) {
	records, err := readRecords(r)
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("insufficient data in angle correction file")
	}
	header := records[0]
	if len(header) != 3 ||
		!strings.EqualFold(header[0], "channel") ||
		!strings.EqualFold(header[1], "elevation") ||
		!strings.EqualFold(header[2], "azimuth") {
		return nil, fmt.Errorf("invalid header in angle correction file, expected: Channel,Elevation,Azimuth")
	}

	out := make([]AngleCorrection, 0, len(records)-1)
	for i, record := range records[1:] {
		line := i + 2
		if len(record) != 3 {
			return nil, fmt.Errorf("invalid record at line %d: expected 3 fields", line)
		}
		channel, err := parseChannel(record[0], channels, line)
		if err != nil {
			return nil, err
		}
		elevation, err := strconv.ParseFloat(record[1], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid elevation at line %d: %w", line, err)
		}
		azimuth, err := strconv.ParseFloat(record[2], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid azimuth at line %d: %w", line, err)
		}
		out = append(out, AngleCorrection{Channel: channel, Elevation: elevation, Azimuth: azimuth})
	}
	return out, nil
}

// ParseFiretimeCSV reads a "Channel,fire time(us)" correction file.
func ParseFiretimeCSV(r io.Reader, channels int) ([]FiretimeCorrection, error) {
	records, err := readRecords(r)
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("insufficient data in firetime correction file")
	}
	header := records[0]
	if len(header) != 2 ||
		!strings.EqualFold(header[0], "channel") ||
		!strings.Contains(strings.ToLower(header[1]), "fire time") {
		return nil, fmt.Errorf("invalid header in firetime correction file, expected: Channel,fire time(us)")
	}

	out := make([]FiretimeCorrection, 0, len(records)-1)
	for i, record := range records[1:] {
		line := i + 2
		if len(record) != 2 {
			return nil, fmt.Errorf("invalid record at line %d: expected 2 fields", line)
		}
		channel, err := parseChannel(record[0], channels, line)
		if err != nil {
			return nil, err
		}
		fireTime, err := strconv.ParseFloat(record[1], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid fire time at line %d: %w", line, err)
		}
		out = append(out, FiretimeCorrection{Channel: channel, FireTime: fireTime})
	}
	return out, nil
}

func readRecords(r io.Reader) ([][]string, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	return records, nil
}

func parseChannel(s string, channels, line int) (int, error) {
	channel, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid channel number at line %d: %w", line, err)
	}
	if channel < 1 || channel > channels {
		return 0, fmt.Errorf("channel number %d out of range (1-%d) at line %d", channel, channels, line)
	}
	return channel, nil
}
