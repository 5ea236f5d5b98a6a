package collcomm

// FlopTime is the amount of virtual time it takes to
// perform a single floating-point operation.
const FlopTime = 1e-9

// ReduceTime is the virtual time needed to sum an incoming
// chunk of float32 values into the local chunk.
func ReduceTime(numBytes uint64) float64 {
	return FlopTime * float64(numBytes/4)
}
