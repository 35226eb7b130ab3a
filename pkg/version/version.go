package version

// Version is the application version. Overridden at build time with
// -ldflags "-X github.com/smg1208/audio-crawler/pkg/version.Version=...".
var Version = "v0.3.0"
