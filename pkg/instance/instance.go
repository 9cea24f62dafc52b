package instance

import "os"

// ID identifies this process in logs: the platform dyno name, an explicit
// worker id, or the host name, in that order.
func ID() string {
	for _, key := range []string{"DYNO", "WORKER_ID", "HOSTNAME"} {
		if id := os.Getenv(key); id != "" {
			return id
		}
	}
	return "local"
}
