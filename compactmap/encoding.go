package compactmap

const (
	redirectFlag uint32 = 1 << 31
	indexMask           = redirectFlag - 1
)

// MaxCapacity is the largest capacity a Map can be created with or grow to.
const MaxCapacity = int(indexMask) - 1

// Encoding selects how a slot link marks the slot as unused.
type Encoding uint8

// Supported link encodings. Both behave identically; they only differ
// in the bit pattern of an unused slot.
const (
	// ZeroUnused marks unused slots with 0 and stores indexes shifted by one.
	ZeroUnused Encoding = iota
	// MaxUnused marks unused slots with the index mask and stores indexes as-is.
	MaxUnused
)

func (e Encoding) unused() uint32 {
	if e == MaxUnused {
		return indexMask
	}
	return 0
}

func (e Encoding) used(link uint32) bool { return link != e.unused() }

func (e Encoding) encode(i int) uint32 {
	if e == MaxUnused {
		return uint32(i)
	}
	return uint32(i) + 1
}

func (e Encoding) decode(link uint32) int {
	i := int(link & indexMask)
	if e == ZeroUnused {
		i--
	}
	return i
}

func redirected(link uint32) bool { return link&redirectFlag != 0 }

// normalize maps a hash code onto [0, indexMask), keeping the redirect
// bit clear and the unused pattern out of range.
func normalize(h uint32) uint32 {
	h &= indexMask
	if h == indexMask {
		h = 0
	}
	return h
}
