//go:build !devfallback

package crypto

var insecureFallbackBuild = false
