// Package instance names the running process for lock owners and log lines.
package instance

import (
	"os"
	"strconv"
	"strings"
)

const EnvInstanceID = "NANOPHOTO_INSTANCE_ID"

// GetID returns NANOPHOTO_INSTANCE_ID when set, else "<hostname>-<pid>" so
// two processes on one host never share a lease token prefix.
func GetID() string {
	if id := strings.TrimSpace(os.Getenv(EnvInstanceID)); id != "" {
		return id
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "nanophoto"
	}
	return host + "-" + strconv.Itoa(os.Getpid())
}
