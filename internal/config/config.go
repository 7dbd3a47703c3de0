// Package config loads the configuration of a landmark detector from a TOML file.
//
// Each sub-component of the detector has its own table, with a "type" key selecting the variant and
// any other keys passed as parameters to the component. Example:
//
//	layout = "full"
//	image_height = 64
//	image_width = 64
//
//	[backbone]
//	type = "cnn"
//	num_layers = 2
//
//	[global_pool]
//	type = "mean"
//	...
package config

import (
	"fmt"
	"github.com/BurntSushi/toml"
	"github.com/janpfeifer/landmarks/internal/parameters"
	"github.com/pkg/errors"
	"strings"
)

// Component configuration: the variant type and its parameters.
type Component struct {
	Type   string
	Params parameters.Params
}

// String implements fmt.Stringer.
func (c *Component) String() string {
	if c == nil {
		return "<nil>"
	}
	if len(c.Params) == 0 {
		return c.Type
	}
	return fmt.Sprintf("%s(%s)", c.Type, c.Params)
}

// Clone returns a deep copy of the component configuration.
func (c *Component) Clone() *Component {
	if c == nil {
		return nil
	}
	return &Component{Type: c.Type, Params: c.Params.Clone()}
}

// NewComponent creates a Component from a configuration string like "cnn,num_layers=2": the first
// element is the type, the remaining ones are its parameters.
func NewComponent(config string) *Component {
	typeName, paramsConfig, _ := strings.Cut(config, ",")
	return &Component{
		Type:   strings.TrimSpace(typeName),
		Params: parameters.NewFromConfigString(paramsConfig),
	}
}

// Detector holds the configuration for all the components of a landmark detector.
// A nil component is a missing configuration, reported as an error when building the detector.
type Detector struct {
	// Layout is the name of the landmarks layout, see landmarks.LayoutByName.
	Layout string

	// ImageHeight, ImageWidth and ImageChannels of the input images.
	ImageHeight, ImageWidth, ImageChannels int

	// Pretrained is an optional checkpoint directory with pretrained weights for the backbone.
	Pretrained string

	// Seed for the random initialization of the weights. If 0, the default random state is used.
	Seed int64

	// BatchSize is the expected inference batch size: batches of this size are not padded.
	BatchSize int

	Backbone, GlobalPool, RoIPool, Concat, FeatureExtractor, VisibilityClassifier, LandmarkRegression *Component
}

// Table names of each component in the configuration file.
const (
	TableBackbone             = "backbone"
	TableGlobalPool           = "global_pool"
	TableRoIPool              = "roi_pool"
	TableConcat               = "concat"
	TableFeatureExtractor     = "landmark_feature_extractor"
	TableVisibilityClassifier = "visibility_classifier"
	TableLandmarkRegression   = "landmark_regression"
)

// ComponentRef points to one of the component fields of Detector.
type ComponentRef struct {
	Table string
	Ref   **Component
}

// Components returns references to the component fields, keyed by their table names, in construction order.
func (d *Detector) Components() []ComponentRef {
	return []ComponentRef{
		{TableBackbone, &d.Backbone},
		{TableGlobalPool, &d.GlobalPool},
		{TableRoIPool, &d.RoIPool},
		{TableConcat, &d.Concat},
		{TableFeatureExtractor, &d.FeatureExtractor},
		{TableVisibilityClassifier, &d.VisibilityClassifier},
		{TableLandmarkRegression, &d.LandmarkRegression},
	}
}

// Clone returns a deep copy of the configuration.
func (d *Detector) Clone() *Detector {
	clone := *d
	for _, c := range clone.Components() {
		*c.Ref = (*c.Ref).Clone()
	}
	return &clone
}

// Default returns a small but complete configuration, using the "full" layout with 64x64 RGB images.
func Default() *Detector {
	return &Detector{
		Layout:        "full",
		ImageHeight:   64,
		ImageWidth:    64,
		ImageChannels: 3,
		BatchSize:     16,

		Backbone:             NewComponent("cnn,num_layers=2,filters=8"),
		GlobalPool:           NewComponent("mean"),
		RoIPool:              NewComponent("mean,roi_size=3"),
		Concat:               NewComponent("concat"),
		FeatureExtractor:     NewComponent("fnn,embedding_dims=32"),
		VisibilityClassifier: NewComponent("softmax"),
		LandmarkRegression:   NewComponent("linear,loss=l2"),
	}
}

// fileConfig is the raw TOML layout.
type fileConfig struct {
	Layout        string `toml:"layout"`
	ImageHeight   int    `toml:"image_height"`
	ImageWidth    int    `toml:"image_width"`
	ImageChannels int    `toml:"image_channels"`
	Pretrained    string `toml:"pretrained"`
	Seed          int64  `toml:"seed"`
	BatchSize     int    `toml:"batch_size"`

	Backbone             map[string]any `toml:"backbone"`
	GlobalPool           map[string]any `toml:"global_pool"`
	RoIPool              map[string]any `toml:"roi_pool"`
	Concat               map[string]any `toml:"concat"`
	FeatureExtractor     map[string]any `toml:"landmark_feature_extractor"`
	VisibilityClassifier map[string]any `toml:"visibility_classifier"`
	LandmarkRegression   map[string]any `toml:"landmark_regression"`
}

// Load the detector configuration from a TOML file.
// Global values not set in the file take the values of Default. Component tables not present are left nil.
func Load(path string) (*Detector, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load detector configuration from %q", path)
	}
	return fromFile(&raw, meta)
}

// Parse the detector configuration from TOML contents. See Load.
func Parse(contents string) (*Detector, error) {
	var raw fileConfig
	meta, err := toml.Decode(contents, &raw)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse detector configuration")
	}
	return fromFile(&raw, meta)
}

func fromFile(raw *fileConfig, meta toml.MetaData) (*Detector, error) {
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		// Component tables are decoded as maps, so anything undecoded is an unknown global key.
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, errors.Errorf("unknown keys in detector configuration: %q", keys)
	}

	cfg := Default()
	if meta.IsDefined("layout") {
		cfg.Layout = strings.TrimSpace(raw.Layout)
	}
	if meta.IsDefined("image_height") {
		cfg.ImageHeight = raw.ImageHeight
	}
	if meta.IsDefined("image_width") {
		cfg.ImageWidth = raw.ImageWidth
	}
	if meta.IsDefined("image_channels") {
		cfg.ImageChannels = raw.ImageChannels
	}
	if meta.IsDefined("pretrained") {
		cfg.Pretrained = strings.TrimSpace(raw.Pretrained)
	}
	if meta.IsDefined("seed") {
		cfg.Seed = raw.Seed
	}
	if meta.IsDefined("batch_size") {
		cfg.BatchSize = raw.BatchSize
	}

	tables := map[string]map[string]any{
		TableBackbone:             raw.Backbone,
		TableGlobalPool:           raw.GlobalPool,
		TableRoIPool:              raw.RoIPool,
		TableConcat:               raw.Concat,
		TableFeatureExtractor:     raw.FeatureExtractor,
		TableVisibilityClassifier: raw.VisibilityClassifier,
		TableLandmarkRegression:   raw.LandmarkRegression,
	}
	for _, c := range cfg.Components() {
		var err error
		*c.Ref, err = componentFromTable(c.Table, tables[c.Table], meta.IsDefined(c.Table))
		if err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func componentFromTable(table string, values map[string]any, defined bool) (*Component, error) {
	if !defined {
		return nil, nil
	}
	typeAny, found := values["type"]
	if !found {
		return nil, errors.Errorf("configuration table [%s] is missing the \"type\" key", table)
	}
	typeName, ok := typeAny.(string)
	if !ok {
		return nil, errors.Errorf("configuration table [%s] \"type\" must be a string, got %T", table, typeAny)
	}
	params := parameters.FromMap(values)
	delete(params, "type")
	return &Component{Type: strings.TrimSpace(typeName), Params: params}, nil
}

// Validate the global values of the configuration. Missing components are not checked here, since they
// are reported when the detector is built.
func (d *Detector) Validate() error {
	if d.ImageHeight <= 0 || d.ImageWidth <= 0 || d.ImageChannels <= 0 {
		return errors.Errorf("invalid image dimensions %dx%dx%d", d.ImageHeight, d.ImageWidth, d.ImageChannels)
	}
	if d.BatchSize <= 0 {
		return errors.Errorf("invalid batch_size %d", d.BatchSize)
	}
	return nil
}
