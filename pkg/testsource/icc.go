package testsource

import (
	"encoding/binary"
)

// ICCProfile returns a minimal display ICC profile: a v4.3 'mntr' RGB
// header followed by an empty tag table. seed is written into the profile ID,
// so different seeds give distinguishable profiles.
func ICCProfile(seed byte) []byte {
	const size = 128 + 4
	b := make([]byte, size)
	binary.BigEndian.PutUint32(b[0:], size)
	binary.BigEndian.PutUint32(b[8:], 0x04300000)
	copy(b[12:], "mntr")
	copy(b[16:], "RGB ")
	copy(b[20:], "XYZ ")
	copy(b[36:], "acsp")
	for idx := 84; idx < 100; idx++ {
		b[idx] = seed
	}
	return b
}
