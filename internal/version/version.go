package version

// VERSION and Commit are stamped into the ardrone binary at build time:
//
//	go build -ldflags "-X github.com/chronologos/ardrone/internal/version.VERSION=0.2.0 \
//	  -X github.com/chronologos/ardrone/internal/version.Commit=abc123" ./cmd/ardrone
var (
	VERSION = "dev"
	Commit  = "dev"
)

// String formats the version the way `ardrone version` prints it.
func String() string {
	return "ardrone " + VERSION + " (" + Commit + ")"
}
