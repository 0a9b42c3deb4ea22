package internal

import (
	"cmp"
	"log/slog"
	"os"
	"os/exec"
)

// JoinTestNetwork attaches the current container to the docker network named
// by CAPTCHA_TEST_DOCKER_NETWORK (default "bridge") so integration tests run
// from a dev container can reach the containers they start. It is a no-op
// outside of docker.
func JoinTestNetwork() {
	if _, err := os.Stat("/.dockerenv"); err != nil {
		return
	}

	hostname, err := os.Hostname()
	if err != nil {
		return
	}

	network := cmp.Or(os.Getenv("CAPTCHA_TEST_DOCKER_NETWORK"), "bridge")

	// Already being connected is reported as an error too.
	if out, err := exec.Command("docker", "network", "connect", network, hostname).CombinedOutput(); err != nil {
		slog.Debug("can't join docker network", "network", network, "err", err, "output", string(out))
	}
}
