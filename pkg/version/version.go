// Package version provides version information for the oracle-trust application.
package version

// Version is the current version of the oracle-trust application.
const Version = "0.3.0"

// AgentString returns the full agent string with versioning.
// Format: oracle-trust/v{version}
func AgentString() string {
	return "oracle-trust/v" + Version
}
