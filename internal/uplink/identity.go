package uplink

// IDVersion represents a version of the peer identity scheme. The catalog
// of known versions is fixed at build time; callers select one by number
// and thread it into the client configuration.
type IDVersion struct {
	Number uint8
}

const latestIDVersion uint8 = 0

var idVersions = map[uint8]IDVersion{
	0: {Number: 0},
}

// GetIDVersion looks up a known identity version by number.
func GetIDVersion(number uint8) (IDVersion, error) {
	version, ok := idVersions[number]
	if !ok {
		return IDVersion{}, ErrInvalidVersion.New("unknown identity version %d", number)
	}
	return version, nil
}

// LatestIDVersion returns the most recent known identity version.
func LatestIDVersion() IDVersion {
	return idVersions[latestIDVersion]
}
