// Package attrs holds NFSv4 attribute numbers, the bitmap4 set type used to
// request and advertise them, and the tagged AttrValue the client exchanges
// with the compound layer.
package attrs

// Bitmap is an NFSv4 bitmap4: bit N lives in word N/32 at position N%32.
type Bitmap []uint32

// NewBitmap returns a bitmap with the given attributes set.
func NewBitmap(attrs ...uint32) Bitmap {
	var b Bitmap
	for _, a := range attrs {
		b.Set(a)
	}
	return b
}

// IsSet checks if a specific bit is set. Bits beyond the bitmap length are
// reported as clear.
func (b Bitmap) IsSet(bit uint32) bool {
	word := bit / 32
	if word >= uint32(len(b)) {
		return false
	}
	return b[word]&(1<<(bit%32)) != 0
}

// Set sets a bit, extending the bitmap if needed.
func (b *Bitmap) Set(bit uint32) {
	word := bit / 32
	for uint32(len(*b)) <= word {
		*b = append(*b, 0)
	}
	(*b)[word] |= 1 << (bit % 32)
}

// Clear clears a bit. No-op when the word does not exist.
func (b Bitmap) Clear(bit uint32) {
	word := bit / 32
	if word >= uint32(len(b)) {
		return
	}
	b[word] &^= 1 << (bit % 32)
}

// Intersect returns the bits set in both bitmaps.
func (b Bitmap) Intersect(other Bitmap) Bitmap {
	n := min(len(b), len(other))
	out := make(Bitmap, n)
	for i := 0; i < n; i++ {
		out[i] = b[i] & other[i]
	}
	return out
}

// Attrs lists the set bits in ascending order.
func (b Bitmap) Attrs() []uint32 {
	var out []uint32
	for w, word := range b {
		for bit := uint32(0); bit < 32; bit++ {
			if word&(1<<bit) != 0 {
				out = append(out, uint32(w)*32+bit)
			}
		}
	}
	return out
}
