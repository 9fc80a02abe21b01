// Package pipeline implements pipeline construction.
package pipeline

import (
	"github.com/google/gopacket"

	"github.com/mafuba8/iex-parser/internal/sink"
)

// Builder provides a fluent interface for building pipelines.
// This is an alternative to using Config directly.
type Builder struct {
	config Config
}

// NewBuilder creates a new pipeline builder.
func NewBuilder() *Builder {
	return &Builder{
		config: Config{
			BufferSize: 1024, // default
		},
	}
}

// WithSource sets the packet data source.
func (b *Builder) WithSource(src gopacket.PacketDataSource) *Builder {
	b.config.Source = src
	return b
}

// WithRegistry sets the sink registry decoded messages are routed to.
func (b *Builder) WithRegistry(reg *sink.Registry) *Builder {
	b.config.Registry = reg
	return b
}

// WithBufferSize sets the captured packet channel buffer size.
func (b *Builder) WithBufferSize(size int) *Builder {
	b.config.BufferSize = size
	return b
}

// WithProgressEvery sets the packet interval between progress log
// lines. Zero disables progress logging.
func (b *Builder) WithProgressEvery(n uint64) *Builder {
	b.config.ProgressEvery = n
	return b
}

// Build creates the pipeline.
func (b *Builder) Build() *Pipeline {
	return New(b.config)
}
