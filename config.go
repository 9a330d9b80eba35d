package raypick

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type LogConfig struct {
	Prefix string `yaml:"prefix"`
	Debug  bool   `yaml:"debug"`
	Quiet  bool   `yaml:"quiet"`
}

// PickerConfig sizes the device buffers of every picker created from it.
// Zero node/triangle/vertex capacities mean "size from the first build".
type PickerConfig struct {
	MaxInstances     int `yaml:"max_instances"`
	MaxGlyphs        int `yaml:"max_glyphs"`
	NodeCapacity     int `yaml:"node_capacity"`
	TriangleCapacity int `yaml:"triangle_capacity"`
	VertexCapacity   int `yaml:"vertex_capacity"`
}

type WindowConfig struct {
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
	Title  string `yaml:"title"`
}

type CameraConfig struct {
	FovDeg float32    `yaml:"fov_deg"`
	Near   float32    `yaml:"near"`
	Far    float32    `yaml:"far"`
	Eye    [3]float32 `yaml:"eye"`
	Target [3]float32 `yaml:"target"`
}

type SceneConfig struct {
	Mesh      string  `yaml:"mesh"` // cube, grid or sphere
	Detail    int     `yaml:"detail"`
	Instances int     `yaml:"instances"`
	Spacing   float32 `yaml:"spacing"`
	Label     string  `yaml:"label"`
}

type Config struct {
	Log    LogConfig    `yaml:"log"`
	Picker PickerConfig `yaml:"picker"`
	Window WindowConfig `yaml:"window"`
	Camera CameraConfig `yaml:"camera"`
	Scene  SceneConfig  `yaml:"scene"`
}

func DefaultConfig() Config {
	return Config{
		Log: LogConfig{Prefix: "raypick"},
		Picker: PickerConfig{
			MaxInstances: 128,
			MaxGlyphs:    256,
		},
		Window: WindowConfig{Width: 1280, Height: 720, Title: "raypick"},
		Camera: CameraConfig{
			FovDeg: 60,
			Near:   0.1,
			Far:    1000,
			Eye:    [3]float32{0, -8, 2},
		},
		Scene: SceneConfig{
			Mesh:      "cube",
			Detail:    16,
			Instances: 3,
			Spacing:   2.5,
			Label:     "raypick",
		},
	}
}

// LoadConfig reads a YAML file over DefaultConfig. An empty path returns the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error
	if c.Picker.MaxInstances < 0 {
		errs = append(errs, fmt.Errorf("picker.max_instances must be >= 0, got %d", c.Picker.MaxInstances))
	}
	if c.Picker.MaxGlyphs < 0 {
		errs = append(errs, fmt.Errorf("picker.max_glyphs must be >= 0, got %d", c.Picker.MaxGlyphs))
	}
	if c.Picker.NodeCapacity < 0 || c.Picker.TriangleCapacity < 0 || c.Picker.VertexCapacity < 0 {
		errs = append(errs, errors.New("picker capacities must be >= 0"))
	}
	if c.Window.Width <= 0 || c.Window.Height <= 0 {
		errs = append(errs, fmt.Errorf("window size must be positive, got %dx%d", c.Window.Width, c.Window.Height))
	}
	if c.Camera.Near <= 0 || c.Camera.Far <= c.Camera.Near {
		errs = append(errs, fmt.Errorf("camera near/far invalid: %g/%g", c.Camera.Near, c.Camera.Far))
	}
	switch c.Scene.Mesh {
	case "cube", "grid", "sphere":
	default:
		errs = append(errs, fmt.Errorf("scene.mesh %q is not one of cube, grid, sphere", c.Scene.Mesh))
	}
	return errors.Join(errs...)
}

func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
