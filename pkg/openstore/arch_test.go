package openstore

import "testing"

func TestFindCompatibleDownloadPrefersFocal(t *testing.T) {
	downloads := []Download{
		{Channel: "xenial", Architecture: "arm64", Version: "0.9", Revision: 3},
		{Channel: "focal", Architecture: "arm64", Version: "1.0", Revision: 5},
	}

	d := FindCompatibleDownload(downloads, "arm64")
	if d == nil {
		t.Fatal("expected a download")
	}
	if d.Channel != "focal" || d.Version != "1.0" {
		t.Errorf("expected focal download, got %+v", d)
	}
}

func TestFindCompatibleDownloadFallsBackToAnyChannel(t *testing.T) {
	downloads := []Download{
		{Channel: "xenial", Architecture: "all", Version: "0.9"},
	}

	d := FindCompatibleDownload(downloads, "arm64")
	if d == nil {
		t.Fatal("expected the architecture-independent download")
	}
	if d.Channel != "xenial" {
		t.Errorf("unexpected download: %+v", d)
	}
}

func TestFindCompatibleDownloadNoMatch(t *testing.T) {
	downloads := []Download{
		{Channel: "focal", Architecture: "armhf", Version: "1.0"},
	}

	if d := FindCompatibleDownload(downloads, "arm64"); d != nil {
		t.Errorf("expected no download, got %+v", d)
	}
}

func TestSystemArchitecture(t *testing.T) {
	arch := SystemArchitecture()
	switch arch {
	case "arm64", "armhf", "amd64", "all":
	default:
		t.Errorf("unexpected architecture name: %s", arch)
	}
}
