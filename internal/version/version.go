// Package version contains a constant for the Flagpole version string.
package version

// Version is the package version
const Version = "1.4.0"
