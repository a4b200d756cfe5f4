package util

// WipeBytes zeroes b in place. Go may still hold copies made by the runtime,
// so secrets that must outlive a call belong in a memguard enclave instead.
func WipeBytes(b []byte) {
	clear(b)
}
