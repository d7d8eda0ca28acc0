// Package config loads the decoder's startup configuration. Files may be
// JSON or YAML; every field is optional and the Get* methods supply defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/hesai-decode/internal/lidar/calib"
	"github.com/banshee-data/hesai-decode/internal/lidar/decoder"
	"github.com/banshee-data/hesai-decode/internal/lidar/l2frames"
	"github.com/banshee-data/hesai-decode/internal/lidar/parse"
	"github.com/banshee-data/hesai-decode/internal/lidar/pipeline"
	"github.com/banshee-data/hesai-decode/internal/lidar/serialsrc"
)

const maxFileSize = 1 * 1024 * 1024

// TransformConfig is the sensor pose. Translation is in metres, rotation in
// radians.
type TransformConfig struct {
	X     float64 `json:"x" yaml:"x"`
	Y     float64 `json:"y" yaml:"y"`
	Z     float64 `json:"z" yaml:"z"`
	Roll  float64 `json:"roll" yaml:"roll"`
	Pitch float64 `json:"pitch" yaml:"pitch"`
	Yaw   float64 `json:"yaw" yaml:"yaw"`
}

// OffsetConfig is the optical centre's offset from the housing centre in
// metres.
type OffsetConfig struct {
	X float32 `json:"x" yaml:"x"`
	Y float32 `json:"y" yaml:"y"`
	Z float32 `json:"z" yaml:"z"`
}

// DecoderConfig is the root configuration document.
type DecoderConfig struct {
	SensorID *string `json:"sensor_id,omitempty" yaml:"sensor_id,omitempty"`
	Model    *string `json:"model,omitempty" yaml:"model,omitempty"`

	FrameStartAzimuth *float64 `json:"frame_start_azimuth,omitempty" yaml:"frame_start_azimuth,omitempty"`
	FOVStart          *float64 `json:"fov_start,omitempty" yaml:"fov_start,omitempty"`
	FOVEnd            *float64 `json:"fov_end,omitempty" yaml:"fov_end,omitempty"`
	TimestampSource   *string  `json:"timestamp_source,omitempty" yaml:"timestamp_source,omitempty"`

	EnableDistanceCorrection *bool         `json:"enable_distance_correction,omitempty" yaml:"enable_distance_correction,omitempty"`
	DistanceReference        *string       `json:"distance_reference,omitempty" yaml:"distance_reference,omitempty"`
	OpticalOffset            *OffsetConfig `json:"optical_offset,omitempty" yaml:"optical_offset,omitempty"`
	EnableFiretimeCorrection *bool         `json:"enable_firetime_correction,omitempty" yaml:"enable_firetime_correction,omitempty"`

	Transform *TransformConfig `json:"transform,omitempty" yaml:"transform,omitempty"`

	MaxPacketsPerFrame  *int   `json:"max_packets_per_frame,omitempty" yaml:"max_packets_per_frame,omitempty"`
	TimeLossThresholdUS *int64 `json:"time_loss_threshold_us,omitempty" yaml:"time_loss_threshold_us,omitempty"`

	AngleCorrectionFile    *string `json:"angle_correction_file,omitempty" yaml:"angle_correction_file,omitempty"`
	FiretimeCorrectionFile *string `json:"firetime_correction_file,omitempty" yaml:"firetime_correction_file,omitempty"`

	QueueDepth *int `json:"queue_depth,omitempty" yaml:"queue_depth,omitempty"`
	FrameQueue *int `json:"frame_queue,omitempty" yaml:"frame_queue,omitempty"`

	Serial *serialsrc.PortOptions `json:"serial,omitempty" yaml:"serial,omitempty"`
}

// LoadDecoderConfig reads a .json, .yaml or .yml file and validates it.
func LoadDecoderConfig(path string) (*DecoderConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &DecoderConfig{}
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", filepath.Base(cleanPath), err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the values that are set.
func (c *DecoderConfig) Validate() error {
	if c.Model != nil && !knownModel(*c.Model) {
		return fmt.Errorf("unknown model %q (supported: %s)", *c.Model, strings.Join(decoder.ModelNames(), ", "))
	}
	if c.TimestampSource != nil {
		if _, err := decoder.ParseTimestampSource(*c.TimestampSource); err != nil {
			return err
		}
	}
	if c.DistanceReference != nil {
		if _, err := calib.ParseReferencePoint(*c.DistanceReference); err != nil {
			return err
		}
	}
	for name, v := range map[string]*float64{"fov_start": c.FOVStart, "fov_end": c.FOVEnd} {
		if v != nil && *v > 360 {
			return fmt.Errorf("%s must be at most 360 degrees, got %f", name, *v)
		}
	}
	if c.MaxPacketsPerFrame != nil && *c.MaxPacketsPerFrame <= 0 {
		return fmt.Errorf("max_packets_per_frame must be positive, got %d", *c.MaxPacketsPerFrame)
	}
	if c.TimeLossThresholdUS != nil && *c.TimeLossThresholdUS < 0 {
		return fmt.Errorf("time_loss_threshold_us must be non-negative, got %d", *c.TimeLossThresholdUS)
	}
	if c.QueueDepth != nil && *c.QueueDepth <= 0 {
		return fmt.Errorf("queue_depth must be positive, got %d", *c.QueueDepth)
	}
	if c.FrameQueue != nil && *c.FrameQueue <= 0 {
		return fmt.Errorf("frame_queue must be positive, got %d", *c.FrameQueue)
	}
	if (c.AngleCorrectionFile == nil) != (c.FiretimeCorrectionFile == nil) {
		return fmt.Errorf("angle_correction_file and firetime_correction_file must be set together")
	}
	if c.Serial != nil {
		if _, err := c.Serial.Normalize(); err != nil {
			return fmt.Errorf("serial: %w", err)
		}
	}
	return nil
}

func knownModel(name string) bool {
	for _, m := range decoder.ModelNames() {
		if strings.EqualFold(m, name) {
			return true
		}
	}
	return false
}

// GetSensorID returns sensor_id or fallback.
func (c *DecoderConfig) GetSensorID(fallback string) string {
	if c.SensorID == nil || *c.SensorID == "" {
		return fallback
	}
	return *c.SensorID
}

// GetModel returns the model name or Pandar40P.
func (c *DecoderConfig) GetModel() string {
	if c.Model == nil || *c.Model == "" {
		return parse.Pandar40P.Name
	}
	return *c.Model
}

// GetFrameStartAzimuth returns the split angle in degrees, default 0.
func (c *DecoderConfig) GetFrameStartAzimuth() float64 {
	if c.FrameStartAzimuth == nil {
		return 0
	}
	return *c.FrameStartAzimuth
}

// GetFOV returns the configured window. Unset bounds disable filtering.
func (c *DecoderConfig) GetFOV() l2frames.FOV {
	if c.FOVStart == nil || c.FOVEnd == nil {
		return l2frames.AllAround()
	}
	return l2frames.NewFOV(*c.FOVStart, *c.FOVEnd)
}

// GetTimestampSource returns the timestamp source, default lidar.
func (c *DecoderConfig) GetTimestampSource() decoder.TimestampSource {
	if c.TimestampSource == nil {
		return decoder.TimestampLidar
	}
	s, err := decoder.ParseTimestampSource(*c.TimestampSource)
	if err != nil {
		return decoder.TimestampLidar
	}
	return s
}

// GetEnableDistanceCorrection defaults to false.
func (c *DecoderConfig) GetEnableDistanceCorrection() bool {
	return c.EnableDistanceCorrection != nil && *c.EnableDistanceCorrection
}

// GetDistanceReference defaults to the optical centre.
func (c *DecoderConfig) GetDistanceReference() calib.ReferencePoint {
	if c.DistanceReference == nil {
		return calib.OpticalCenter
	}
	r, err := calib.ParseReferencePoint(*c.DistanceReference)
	if err != nil {
		return calib.OpticalCenter
	}
	return r
}

// GetOpticalOffset defaults to zero.
func (c *DecoderConfig) GetOpticalOffset() calib.Offset {
	if c.OpticalOffset == nil {
		return calib.Offset{}
	}
	return calib.Offset{X: c.OpticalOffset.X, Y: c.OpticalOffset.Y, Z: c.OpticalOffset.Z}
}

// GetEnableFiretimeCorrection defaults to false.
func (c *DecoderConfig) GetEnableFiretimeCorrection() bool {
	return c.EnableFiretimeCorrection != nil && *c.EnableFiretimeCorrection
}

// GetTransform defaults to the identity.
func (c *DecoderConfig) GetTransform() l2frames.Transform {
	if c.Transform == nil {
		return l2frames.Identity()
	}
	t := c.Transform
	return l2frames.NewTransform(t.X, t.Y, t.Z, t.Roll, t.Pitch, t.Yaw)
}

// GetMaxPacketsPerFrame defaults to decoder.DefaultMaxPacketsPerFrame.
func (c *DecoderConfig) GetMaxPacketsPerFrame() int {
	if c.MaxPacketsPerFrame == nil {
		return decoder.DefaultMaxPacketsPerFrame
	}
	return *c.MaxPacketsPerFrame
}

// GetTimeLossThreshold returns zero when unset, leaving the engine default.
func (c *DecoderConfig) GetTimeLossThreshold() time.Duration {
	if c.TimeLossThresholdUS == nil {
		return 0
	}
	return time.Duration(*c.TimeLossThresholdUS) * time.Microsecond
}

// GetQueueDepth defaults to pipeline.DefaultQueueDepth.
func (c *DecoderConfig) GetQueueDepth() int {
	if c.QueueDepth == nil {
		return pipeline.DefaultQueueDepth
	}
	return *c.QueueDepth
}

// GetFrameQueue returns zero when unset, leaving the pipeline default.
func (c *DecoderConfig) GetFrameQueue() int {
	if c.FrameQueue == nil {
		return 0
	}
	return *c.FrameQueue
}

// GetSerial returns the normalized serial options.
func (c *DecoderConfig) GetSerial() serialsrc.PortOptions {
	var opts serialsrc.PortOptions
	if c.Serial != nil {
		opts = *c.Serial
	}
	n, err := opts.Normalize()
	if err != nil {
		n, _ = serialsrc.PortOptions{}.Normalize()
	}
	return n
}

// Options builds the decoder switches.
func (c *DecoderConfig) Options() decoder.Options {
	return decoder.Options{
		FrameStartAzimuth:        c.GetFrameStartAzimuth(),
		FOV:                      c.GetFOV(),
		TimestampSource:          c.GetTimestampSource(),
		EnableDistanceCorrection: c.GetEnableDistanceCorrection(),
		DistanceReference:        c.GetDistanceReference(),
		EnableFiretimeCorrection: c.GetEnableFiretimeCorrection(),
		Transform:                c.GetTransform(),
	}
}

// EngineConfig builds the decoder engine configuration.
func (c *DecoderConfig) EngineConfig(sensorID string) decoder.Config {
	return decoder.Config{
		SensorID:           c.GetSensorID(sensorID),
		Model:              c.GetModel(),
		Options:            c.Options(),
		MaxPacketsPerFrame: c.GetMaxPacketsPerFrame(),
		TimeLossThreshold:  c.GetTimeLossThreshold(),
	}
}

// LoadCalibration reads the configured correction files, or the embedded
// Pandar40P tables when none are set, and applies the optical offset.
func (c *DecoderConfig) LoadCalibration(channels int) (*calib.Table, error) {
	var (
		t   *calib.Table
		err error
	)
	if c.AngleCorrectionFile != nil {
		t, err = calib.LoadFiles(*c.AngleCorrectionFile, *c.FiretimeCorrectionFile, channels)
	} else {
		t, err = calib.LoadDefault()
	}
	if err != nil {
		return nil, err
	}
	if off := c.GetOpticalOffset(); off != (calib.Offset{}) {
		t = t.WithOpticalOffset(off)
	}
	return t, nil
}
