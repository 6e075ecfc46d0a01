package version

var (
	// GitCommit is the current HEAD set using ldflags.
	GitCommit string

	// Version is the built softwares version.
	Version = WDCoreSemVer
)

func init() {
	if GitCommit != "" {
		Version += "-" + GitCommit
	}
}

const (
	// WDCoreSemVer is the current version of the node.
	WDCoreSemVer = "0.4.0"

	// P2PProtocol versions the envelope and message formats. Peers with a
	// different protocol cannot decode each other.
	P2PProtocol uint64 = 1

	// BlockProtocol is the only block version the chain accepts.
	BlockProtocol uint64 = 1
)
