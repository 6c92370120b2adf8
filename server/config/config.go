package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
	_ "time/tzdata"

	"github.com/cyclopcam/herdcount/pkg/nn"
	"github.com/cyclopcam/herdcount/pkg/storage"
	"gopkg.in/yaml.v3"
)

const DefaultPath = "config/config.yaml"

var ErrConfigNotFound = errors.New("Config file not found")
var ErrInvalidConfig = errors.New("Invalid config")

const (
	DriverInfluxDB = "influxdb"
	DriverSQLite   = "sqlite"
)

type Model struct {
	Path                string  `yaml:"path"`                 // ONNX file, eg models/yolov8n.onnx
	ClassesPath         string  `yaml:"classes_path"`         // Optional text file of class names, one per line. Default is the 80 COCO classes.
	ConfidenceThreshold float32 `yaml:"confidence_threshold"` // Minimum class probability
	NmsThreshold        float32 `yaml:"nms_threshold"`        // IoU above which overlapping boxes of the same class are merged
	InputSize           int     `yaml:"input_size"`           // Width and height of the model input
}

// AnimalClass is one of the classes that we count
type AnimalClass struct {
	Name   string `yaml:"name"`    // eg "horse"
	COCOID int    `yaml:"coco_id"` // eg 17
	Color  []int  `yaml:"color"`   // Box color as [B, G, R], each 0..255
}

type Animals struct {
	Classes []AnimalClass `yaml:"classes"`
}

type Video struct {
	Source     string `yaml:"source"`      // Camera index such as "0", or a file path or URL
	SaveOutput bool   `yaml:"save_output"` // Write annotated frames to OutputPath
	OutputPath string `yaml:"output_path"`
	Preview    *bool  `yaml:"preview"` // Show a preview window. Default true.
}

type Persistence struct {
	IntervalSeconds  float64 `yaml:"interval_seconds"`  // Minimum wall-clock time between snapshots
	Source           string  `yaml:"source"`            // Value of the 'source' tag, eg "camera_1"
	Location         string  `yaml:"location"`          // Value of the 'location' tag, eg "detection_area"
	Timezone         string  `yaml:"timezone"`          // Used for the detection_time field
	DetectionDetails bool    `yaml:"detection_details"` // Write one point per detection
	Performance      bool    `yaml:"performance"`       // Write FPS and inference time
}

type Database struct {
	Driver     string `yaml:"driver"` // "influxdb" or "sqlite"
	URL        string `yaml:"url"`
	Token      string `yaml:"token"`
	Org        string `yaml:"org"`
	Bucket     string `yaml:"bucket"`
	SQLitePath string `yaml:"sqlite_path"`
}

type Evaluation struct {
	GroundTruth   string         `yaml:"ground_truth"`   // JSON file of {video: {class: count}}
	VideosDir     string         `yaml:"videos_dir"`     // Relative video paths in the ground truth are relative to this
	ReportPath    string         `yaml:"report_path"`    // Name of the report inside ReportStorage
	ReportStorage storage.Config `yaml:"report_storage"` // Where reports are written
}

type Dashboard struct {
	Listen string `yaml:"listen"` // eg ":8501"
}

type Config struct {
	Model       Model       `yaml:"model"`
	Animals     Animals     `yaml:"animals"`
	Video       Video       `yaml:"video"`
	Persistence Persistence `yaml:"persistence"`
	Database    Database    `yaml:"database"`
	Evaluation  Evaluation  `yaml:"evaluation"`
	Dashboard   Dashboard   `yaml:"dashboard"`
}

// Load reads, defaults, overrides from the environment, and validates the config.
// If filename is empty, then HERDCOUNT_CONFIG is used, and failing that, DefaultPath.
func Load(filename string) (*Config, error) {
	if filename == "" {
		filename = os.Getenv("HERDCOUNT_CONFIG")
	}
	if filename == "" {
		filename = DefaultPath
	}
	raw, err := os.ReadFile(filename)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %v", ErrConfigNotFound, filename)
	} else if err != nil {
		return nil, fmt.Errorf("Error loading %v: %w", filename, err)
	}
	cfg, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("Error loading %v: %w", filename, err)
	}
	return cfg, nil
}

// Parse a YAML config. Environment overrides and defaults are applied before validation.
func Parse(raw []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("Error parsing YAML: %w", err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	envOverride(&c.Database.URL, "INFLUXDB_URL")
	envOverride(&c.Database.Token, "INFLUXDB_TOKEN")
	envOverride(&c.Database.Org, "INFLUXDB_ORG")
	envOverride(&c.Database.Bucket, "INFLUXDB_BUCKET")
	envOverride(&c.Video.Source, "HERDCOUNT_VIDEO_SOURCE")
	envOverrideFloat(&c.Persistence.IntervalSeconds, "HERDCOUNT_PERSISTENCE_INTERVAL")
}

func (c *Config) applyDefaults() {
	if c.Model.Path == "" {
		c.Model.Path = "models/yolov8n.onnx"
	}
	if c.Model.NmsThreshold == 0 {
		c.Model.NmsThreshold = nn.DefaultNmsIouThreshold
	}
	if c.Model.InputSize == 0 {
		c.Model.InputSize = 640
	}
	if c.Video.Source == "" {
		c.Video.Source = "0"
	}
	if c.Video.OutputPath == "" {
		c.Video.OutputPath = "output/detections.mp4"
	}
	if c.Video.Preview == nil {
		preview := true
		c.Video.Preview = &preview
	}
	if c.Persistence.IntervalSeconds == 0 {
		c.Persistence.IntervalSeconds = 15
	}
	if c.Persistence.Source == "" {
		c.Persistence.Source = "camera_1"
	}
	if c.Persistence.Location == "" {
		c.Persistence.Location = "detection_area"
	}
	if c.Persistence.Timezone == "" {
		c.Persistence.Timezone = "Asia/Bangkok"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DriverInfluxDB
	}
	if c.Database.SQLitePath == "" {
		c.Database.SQLitePath = "data/series.sqlite"
	}
	if c.Evaluation.GroundTruth == "" {
		c.Evaluation.GroundTruth = "evaluation/ground_truth_counts.json"
	}
	if c.Evaluation.VideosDir == "" {
		c.Evaluation.VideosDir = "data/videos"
	}
	if c.Evaluation.ReportPath == "" {
		c.Evaluation.ReportPath = "evaluation/counting_results.json"
	}
	if c.Dashboard.Listen == "" {
		c.Dashboard.Listen = ":8501"
	}
}

// Validate checks the config for values that would make the pipeline misbehave
func (c *Config) Validate() error {
	if c.Model.ConfidenceThreshold < 0 || c.Model.ConfidenceThreshold > 1 {
		return fmt.Errorf("%w: model.confidence_threshold must be between 0 and 1", ErrInvalidConfig)
	}
	if c.Model.NmsThreshold < 0 || c.Model.NmsThreshold > 1 {
		return fmt.Errorf("%w: model.nms_threshold must be between 0 and 1", ErrInvalidConfig)
	}
	if c.Model.InputSize < 32 {
		return fmt.Errorf("%w: model.input_size %v is too small", ErrInvalidConfig, c.Model.InputSize)
	}
	if len(c.Animals.Classes) == 0 {
		return fmt.Errorf("%w: animals.classes is empty", ErrInvalidConfig)
	}
	names := map[string]bool{}
	for i, a := range c.Animals.Classes {
		if a.Name == "" {
			return fmt.Errorf("%w: animals.classes[%v] has no name", ErrInvalidConfig, i)
		}
		if names[a.Name] {
			return fmt.Errorf("%w: animal class '%v' is listed more than once", ErrInvalidConfig, a.Name)
		}
		names[a.Name] = true
		if a.COCOID < 0 || a.COCOID >= len(nn.COCOClasses) {
			return fmt.Errorf("%w: animal class '%v' has invalid coco_id %v", ErrInvalidConfig, a.Name, a.COCOID)
		}
		// Custom class files may name things differently, but the built-in COCO names must agree with the id
		if c.Model.ClassesPath == "" && nn.COCOClassIndex(a.Name) != a.COCOID {
			return fmt.Errorf("%w: animal class '%v' does not have COCO id %v", ErrInvalidConfig, a.Name, a.COCOID)
		}
		if len(a.Color) != 0 {
			if len(a.Color) != 3 {
				return fmt.Errorf("%w: animal class '%v' color must have 3 components", ErrInvalidConfig, a.Name)
			}
			for _, v := range a.Color {
				if v < 0 || v > 255 {
					return fmt.Errorf("%w: animal class '%v' color component %v is out of range", ErrInvalidConfig, a.Name, v)
				}
			}
		}
	}
	if c.Persistence.IntervalSeconds <= 0 {
		return fmt.Errorf("%w: persistence.interval_seconds must be positive", ErrInvalidConfig)
	}
	if _, err := time.LoadLocation(c.Persistence.Timezone); err != nil {
		return fmt.Errorf("%w: persistence.timezone: %v", ErrInvalidConfig, err)
	}
	switch c.Database.Driver {
	case DriverInfluxDB:
		if c.Database.URL == "" || c.Database.Org == "" || c.Database.Bucket == "" {
			return fmt.Errorf("%w: database.url, database.org and database.bucket are required for influxdb", ErrInvalidConfig)
		}
	case DriverSQLite:
		if c.Database.SQLitePath == "" {
			return fmt.Errorf("%w: database.sqlite_path is required for sqlite", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown database.driver '%v'", ErrInvalidConfig, c.Database.Driver)
	}
	if c.Evaluation.ReportStorage.Filesystem != nil && c.Evaluation.ReportStorage.GCS != nil {
		return fmt.Errorf("%w: evaluation.report_storage may have only one of filesystem or gcs", ErrInvalidConfig)
	}
	return nil
}

// ClassNames returns the configured class names, in configuration order
func (c *Config) ClassNames() []string {
	names := make([]string, 0, len(c.Animals.Classes))
	for _, a := range c.Animals.Classes {
		names = append(names, a.Name)
	}
	return names
}

// Class returns the configuration of the named class, or nil
func (c *Config) Class(name string) *AnimalClass {
	for i := range c.Animals.Classes {
		if c.Animals.Classes[i].Name == name {
			return &c.Animals.Classes[i]
		}
	}
	return nil
}

// PersistenceInterval is the minimum time between snapshots
func (c *Config) PersistenceInterval() time.Duration {
	return time.Duration(c.Persistence.IntervalSeconds * float64(time.Second))
}

// Location is the timezone of detection_time values
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Persistence.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ShowPreview returns true if a preview window should be shown
func (c *Config) ShowPreview() bool {
	return c.Video.Preview == nil || *c.Video.Preview
}

func envOverride(field *string, key string) {
	if v := os.Getenv(key); v != "" {
		*field = v
	}
}

func envOverrideFloat(field *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*field = f
		}
	}
}
