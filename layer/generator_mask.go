package layer

import (
	"fmt"
	"math/bits"
)

// MaxGenerators is the number of generators a GeneratorMask can address.
const MaxGenerators = 32

// GeneratorMask is a set of generator indices. It records which generators
// contributed, directly or through their inputs, to a layer's contents.
type GeneratorMask uint32

// GeneratorBit returns the mask holding only generator index i.
func GeneratorBit(i int) GeneratorMask {
	if i < 0 || i >= MaxGenerators {
		panic(fmt.Sprintf("layer: generator index %d out of range", i))
	}
	return GeneratorMask(1) << i
}

// Union returns m ∪ o.
func (m GeneratorMask) Union(o GeneratorMask) GeneratorMask { return m | o }

// Intersects reports whether m and o share a generator.
func (m GeneratorMask) Intersects(o GeneratorMask) bool { return m&o != 0 }

// Has reports whether generator i is in m.
func (m GeneratorMask) Has(i int) bool { return m&GeneratorBit(i) != 0 }

// Empty reports whether m holds no generators.
func (m GeneratorMask) Empty() bool { return m == 0 }

// Len returns the number of generators in m.
func (m GeneratorMask) Len() int { return bits.OnesCount32(uint32(m)) }

func (m GeneratorMask) String() string { return fmt.Sprintf("%#x", uint32(m)) }
