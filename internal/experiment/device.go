package experiment

import (
	"os"
	"strings"
)

// ResolveDevice returns the device a driver would actually use. CUDA devices
// fall back to cpu when no GPU is available; "auto" picks cuda when possible.
func ResolveDevice(requested string, cudaAvailable bool) string {
	switch {
	case requested == "auto":
		if cudaAvailable {
			return "cuda"
		}
		return "cpu"
	case strings.HasPrefix(requested, "cuda") && !cudaAvailable:
		return "cpu"
	case requested == "":
		return "cpu"
	default:
		return requested
	}
}

var statFile = os.Stat

// CUDAAvailable reports whether an NVIDIA device node is present and not
// masked with CUDA_VISIBLE_DEVICES.
func CUDAAvailable(lookupEnv func(string) (string, bool)) bool {
	if visible, ok := lookupEnv("CUDA_VISIBLE_DEVICES"); ok {
		visible = strings.TrimSpace(visible)
		if visible == "" || visible == "-1" {
			return false
		}
	}
	_, err := statFile("/dev/nvidiactl")
	return err == nil
}
