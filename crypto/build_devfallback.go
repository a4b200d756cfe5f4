//go:build devfallback

package crypto

// insecureFallbackBuild enables the development-only fallbacks. Only binaries
// built with -tags devfallback carry this.
var insecureFallbackBuild = true
