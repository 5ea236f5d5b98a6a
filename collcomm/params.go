package collcomm

// A ParameterSource exposes the size of the buffer that is
// synchronized every step.
//
// The value must not change between steps.
type ParameterSource interface {
	ParameterBytes() uint64
}

// Float32Params is a ParameterSource for a flat buffer of
// float32 parameters.
type Float32Params int

// ParameterBytes returns the buffer size in bytes.
func (f Float32Params) ParameterBytes() uint64 {
	return uint64(f) * 4
}

// ByteCount is a ParameterSource with a fixed byte size.
type ByteCount uint64

// ParameterBytes returns b.
func (b ByteCount) ParameterBytes() uint64 {
	return uint64(b)
}
