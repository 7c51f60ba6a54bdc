package cmd

var version = "dev" // Set at build time using -ldflags

// Version returns the flowd build version.
func Version() string {
	return version
}
