package version

// Version is the pescan release version. Overridden at build time via
// -ldflags "-X pescan/version.Version=...".
var Version = "0.3.0"
