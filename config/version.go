package config

// Version is the build version, set with
// -ldflags "-X github.com/jonwraymond/steadycore/config.Version=v1.2.3".
var Version = "dev"
