package ftp

// AccessCode computes the scrambled device-GUID hash gating FTP write and
// delete requests, per spec.md §4.7. It is an obfuscation, not a
// cryptographic defense (spec.md's explicit Non-goals).
func AccessCode(guid [4]uint32) uint32 {
	g0, g1, g2, g3 := guid[0], guid[1], guid[2], guid[3]
	shift := (g0 >> 3) & 3
	return ((g0 ^ g3) >> shift) ^ g2 ^ 0x5EB9417D ^ g1
}
