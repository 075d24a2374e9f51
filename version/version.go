// Package version provides default versions, user-agents etc. for client identification.
package version

import (
	"fmt"
	"reflect"
	"runtime/debug"
	"strings"
)

const (
	clientName   = "SW"
	versionMajor = 0
	versionMinor = 1
)

var (
	// The peer ID prefix. This should be updated when client behaviour changes in a way that other
	// peers could care about.
	DefaultBep20Prefix = azureusPrefix(clientName, versionMajor, versionMinor)
	// Module version of this package as reported by the build, or "unknown".
	ModuleVersion        = "unknown"
	DefaultHttpUserAgent string
)

const versionDigits = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// Azureus-style peer ID prefix, "-" then the two letter client name, one digit each for the major
// and minor versions, two zeros and a "-".
func azureusPrefix(name string, major, minor int) string {
	if len(name) != 2 {
		panic(fmt.Sprintf("client name %q isn't two characters", name))
	}
	return fmt.Sprintf("-%s%c%c00-", name, versionDigits[major], versionDigits[minor])
}

func init() {
	const (
		longNamespace   = "swarmd"
		longPackageName = "torrent"
	)
	type Newtype struct{}
	var newtype Newtype
	thisPkg := reflect.TypeOf(newtype).PkgPath()
	if buildInfo, ok := debug.ReadBuildInfo(); ok {
		thisModule := ""
		// Note that if the main module is the same as this module, we get a version of "(devel)".
		for _, dep := range append(buildInfo.Deps, &buildInfo.Main) {
			if strings.HasPrefix(thisPkg, dep.Path) && len(dep.Path) >= len(thisModule) {
				thisModule = dep.Path
				ModuleVersion = dep.Version
			}
		}
	}
	// Per https://developer.mozilla.org/en-US/docs/Web/HTTP/Headers/User-Agent#library_and_net_tool_ua_strings
	DefaultHttpUserAgent = fmt.Sprintf(
		"%v-%v/%v",
		longNamespace,
		longPackageName,
		ModuleVersion,
	)
}
