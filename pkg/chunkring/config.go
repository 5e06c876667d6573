package chunkring

import "fmt"

// Config controls how a Ring grows and when it hands allocations off to the
// backing allocator instead of carving them from a Chunk.
type Config struct {
	// Backing supplies and reclaims the storage behind Chunks and oversize
	// blocks. Defaults to DefaultBacking.
	Backing Backing

	// MinChunkSize is the size of the first Chunk, and the size a grown
	// Chunk is never smaller than.
	MinChunkSize int

	// MaxChunkSize is the largest a single Chunk is ever allowed to grow to.
	MaxChunkSize int

	// OversizeThreshold is the largest allocation size the Ring will still
	// try to carve from a Chunk. Anything larger goes straight to Backing,
	// as does any request that, with its header and alignment padding,
	// could not fit a Chunk of MaxChunkSize. Zero or less defaults to
	// MaxChunkSize minus the size of a block header.
	OversizeThreshold int

	// GrowthFactor is how much larger each newly grown Chunk is than the
	// one grown before it (the first is GrowthFactor times MinChunkSize),
	// until MaxChunkSize caps it. A Chunk grown for a request that would
	// not fit that size is made just large enough instead. Must be at
	// least 2.
	GrowthFactor int

	// OnEvent, if set, is called synchronously whenever the Ring rotates,
	// grows, retires a Chunk, or allocates or frees an oversize block. It
	// must not call back into the Ring that invoked it.
	OnEvent func(Event)
}

// DefaultConfig returns a Config tuned for general-purpose, short-lived
// allocations: a 4KiB starting Chunk, doubling up to 512KiB, with anything
// over 8KiB treated as oversize.
func DefaultConfig() Config {
	return Config{
		Backing:           DefaultBacking,
		MinChunkSize:      4 << 10,
		MaxChunkSize:      512 << 10,
		OversizeThreshold: 8 << 10,
		GrowthFactor:      2,
	}
}

func (c *Config) validate() error {
	if c.Backing == nil {
		c.Backing = DefaultBacking
	}

	if c.MinChunkSize <= 0 {
		return fmt.Errorf("chunkring: MinChunkSize must be positive, got %d", c.MinChunkSize)
	}

	if c.MaxChunkSize < c.MinChunkSize {
		return fmt.Errorf("chunkring: MaxChunkSize (%d) must be >= MinChunkSize (%d)", c.MaxChunkSize, c.MinChunkSize)
	}

	if c.GrowthFactor < 2 {
		return fmt.Errorf("chunkring: GrowthFactor must be >= 2, got %d", c.GrowthFactor)
	}

	if c.OversizeThreshold <= 0 {
		c.OversizeThreshold = c.MaxChunkSize - headerSize
	}

	if c.OversizeThreshold > c.MaxChunkSize-headerSize {
		return fmt.Errorf(
			"chunkring: OversizeThreshold (%d) leaves no room for a block header in MaxChunkSize (%d)",
			c.OversizeThreshold, c.MaxChunkSize,
		)
	}

	return nil
}
