// Package utils provides bespoke, one off utils that don't make sense to be
// their own package
package utils

// Build metadata for keepsake binaries. Release builds set these with
// -ldflags "-X github.com/papercomputeco/keepsake/pkg/utils.Version=...".
var (
	Version   = "dev"
	Sha       = "HEAD"
	Buildtime = "dev"
)

// UserAgent identifies keepsake clients to the keepsake API.
func UserAgent() string {
	return "keepsake/" + Version
}
