package openstore

import "runtime"

// SystemArchitecture maps the Go architecture name to the OpenStore
// naming. Unknown architectures fall back to "all", which matches
// architecture-independent packages only.
func SystemArchitecture() string {
	switch runtime.GOARCH {
	case "arm64":
		return "arm64"
	case "arm":
		return "armhf"
	case "amd64":
		return "amd64"
	default:
		return "all"
	}
}

// FindCompatibleDownload picks the best download for an architecture.
// Focal-channel downloads are preferred; otherwise the first download
// matching the architecture (or "all") wins.
func FindCompatibleDownload(downloads []Download, systemArch string) *Download {
	for i := range downloads {
		d := &downloads[i]
		if d.Channel == "focal" && archMatches(d.Architecture, systemArch) {
			return d
		}
	}
	for i := range downloads {
		d := &downloads[i]
		if archMatches(d.Architecture, systemArch) {
			return d
		}
	}
	return nil
}

func archMatches(arch, systemArch string) bool {
	return arch == systemArch || arch == "all"
}
