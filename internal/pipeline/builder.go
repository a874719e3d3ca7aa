package pipeline

import (
	"fmt"

	"github.com/rs/zerolog"
)

// Builder helps construct a fully configured Pipeline
type Builder struct {
	store      ItemStore
	classifier ItemClassifier
	analyzer   ItemAnalyzer
	config     Config
	log        zerolog.Logger
}

// NewBuilder creates a new pipeline builder with default settings
func NewBuilder() *Builder {
	return &Builder{
		config: DefaultConfig(),
		log:    zerolog.Nop(),
	}
}

// WithStore sets the item store
func (b *Builder) WithStore(store ItemStore) *Builder {
	b.store = store
	return b
}

// WithClassifier sets the classifier
func (b *Builder) WithClassifier(c ItemClassifier) *Builder {
	b.classifier = c
	return b
}

// WithAnalyzer sets the political analyzer
func (b *Builder) WithAnalyzer(a ItemAnalyzer) *Builder {
	b.analyzer = a
	return b
}

// WithConfig sets the pipeline configuration
func (b *Builder) WithConfig(config Config) *Builder {
	b.config = config
	return b
}

// WithLogger sets the logger
func (b *Builder) WithLogger(log zerolog.Logger) *Builder {
	b.log = log
	return b
}

// Build constructs a fully configured Pipeline
func (b *Builder) Build() (*Pipeline, error) {
	if b.store == nil {
		return nil, fmt.Errorf("item store is required")
	}
	if b.classifier == nil {
		return nil, fmt.Errorf("classifier is required")
	}
	if b.analyzer == nil {
		return nil, fmt.Errorf("analyzer is required")
	}
	return NewPipeline(b.store, b.classifier, b.analyzer, b.config, b.log), nil
}
