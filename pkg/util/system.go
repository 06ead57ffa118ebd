package util

import (
	"os"
	"strings"
	"sync"
)

var (
	isContainerOnce   sync.Once
	isContainerResult bool
)

// Runtime describes where the watchdog process is running.
type Runtime struct {
	Container bool
	// Supervised is set when running as a Home Assistant add-on. The
	// watchdog then shares a host with the instance it may power off.
	Supervised bool
}

// DetectRuntime inspects the process environment.
func DetectRuntime() Runtime {
	return Runtime{
		Container:  IsRunningInContainer(),
		Supervised: isSupervised(os.LookupEnv),
	}
}

// IsRunningInContainer detects if the current process is running inside a container.
// The result is cached.
func IsRunningInContainer() bool {
	isContainerOnce.Do(func() {
		isContainerResult = detectContainer("/")
	})
	return isContainerResult
}

// detectContainer checks the container markers below root.
func detectContainer(root string) bool {
	for _, marker := range []string{".dockerenv", "run/.containerenv"} {
		if _, err := os.Stat(root + marker); err == nil {
			return true
		}
	}

	if data, err := os.ReadFile(root + "proc/1/cgroup"); err == nil {
		content := string(data)
		for _, runtime := range []string{"docker", "containerd", "lxc"} {
			if strings.Contains(content, runtime) {
				return true
			}
		}
	}

	return false
}

func isSupervised(lookup EnvLookup) bool {
	v, ok := lookup("SUPERVISOR_TOKEN")
	return ok && v != ""
}
