package version

// Version is the current release of nest.
const Version = "0.9.0"

// BuildVersion returns the version string for display.
func BuildVersion() string {
	return "nest version " + Version
}

// APIVersion returns just the version number for API responses.
func APIVersion() string {
	return Version
}
