package kernel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/staleproc/restartcheck/internal/platform"
	"github.com/staleproc/restartcheck/internal/testutil"
	"github.com/staleproc/restartcheck/pkg/models"
)

func platformHost() platform.Host {
	return platform.Host{
		Runner: testutil.NewFakeRunner(),
		Facts:  testutil.FakeFacts{Family: models.FamilyDebian, Arch: "x86_64"},
	}
}

func TestDebianDetect(t *testing.T) {
	runner := testutil.NewFakeRunner().
		Script("dpkg --get-selections linux-image-*",
			"linux-image-5.10.0-27-amd64\t\tdeinstall\n"+
				"linux-image-5.10.0-28-amd64\t\tinstall\n"+
				"linux-image-amd64\t\tinstall").
		Script("apt-cache policy linux-image-5.10.0-28-amd64",
			"linux-image-5.10.0-28-amd64:\n"+
				"  Installed: 5.10.209-2\n"+
				"  Candidate: 5.10.209-2\n"+
				"  Version table:\n"+
				" *** 5.10.209-2 500")

	d := &DebianDetector{Runner: runner, Facts: testutil.FakeFacts{Name: "Debian"}}
	got, err := d.Detect(context.Background())
	require.NoError(t, err)
	// The meta package (last selection line) is skipped in favor of the
	// second-to-last, versioned one.
	assert.Equal(t, models.KernelVersions{"5.10.209-2"}, got)
}

func TestDebianDetectUbuntuFlavors(t *testing.T) {
	runner := testutil.NewFakeRunner().
		Script("dpkg --get-selections linux-image-*",
			"linux-image-4.4.0-21-generic\t\tinstall\n"+
				"linux-image-4.4.0-24-generic\t\tinstall\n"+
				"linux-image-generic\t\tinstall").
		Script("apt-cache policy linux-image-4.4.0-24-generic",
			"linux-image-4.4.0-24-generic:\n"+
				"  Installed: 4.4.0-24.43\n"+
				"  Candidate: 4.4.0-24.43")

	d := &DebianDetector{Runner: runner, Facts: testutil.FakeFacts{Name: "Ubuntu"}}
	got, err := d.Detect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.KernelVersions{
		"4.4.0-24.43",
		"4.4.0-24-generic #43",
		"4.4.0-24-lowlatency #43",
	}, got)
}

func TestDebianDetectSingleSelection(t *testing.T) {
	runner := testutil.NewFakeRunner().
		Script("dpkg --get-selections linux-image-*",
			"linux-image-5.10.0-28-amd64\t\tinstall").
		Script("apt-cache policy linux-image-5.10.0-28-amd64",
			"  Installed: 5.10.209-2")

	d := &DebianDetector{Runner: runner, Facts: testutil.FakeFacts{Name: "Debian"}}
	got, err := d.Detect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.KernelVersions{"5.10.209-2"}, got)
}

func TestDebianDetectNoKernels(t *testing.T) {
	runner := testutil.NewFakeRunner().Script("dpkg --get-selections linux-image-*", "")

	d := &DebianDetector{Runner: runner, Facts: testutil.FakeFacts{Name: "Debian"}}
	_, err := d.Detect(context.Background())
	assert.Error(t, err, "no linux-image packages must be an error")
}

func TestDebianDetectNoInstalledLine(t *testing.T) {
	runner := testutil.NewFakeRunner().
		Script("dpkg --get-selections linux-image-*", "linux-image-5.10.0-28-amd64\t\tinstall").
		Script("apt-cache policy linux-image-5.10.0-28-amd64", "N: Unable to locate package")

	d := &DebianDetector{Runner: runner, Facts: testutil.FakeFacts{Name: "Debian"}}
	_, err := d.Detect(context.Background())
	assert.Error(t, err, "apt-cache without an Installed line must be an error")
}

func TestRedHatDetect(t *testing.T) {
	runner := testutil.NewFakeRunner().
		Script("rpm -q --last kernel",
			"kernel-5.14.0-362.8.1.el9_3.x86_64            Mon 20 Nov 2023 10:14:06 AM UTC\n"+
				"kernel-5.14.0-284.11.1.el9_2.x86_64           Wed 10 May 2023 08:03:12 AM UTC")

	d := &RedHatDetector{Runner: runner}
	got, err := d.Detect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.KernelVersions{"5.14.0-362.8.1.el9_3.x86_64"}, got)
}

func TestRedHatDetectNoHistory(t *testing.T) {
	runner := testutil.NewFakeRunner().Script("rpm -q --last kernel", "package kernel is not installed")

	d := &RedHatDetector{Runner: runner}
	_, err := d.Detect(context.Background())
	assert.Error(t, err, "rpm history without kernel lines must be an error")
}

func TestForFamily(t *testing.T) {
	host := platformHost()
	for _, family := range []models.OSFamily{models.FamilyDebian, models.FamilyRedHat, models.FamilyNILinuxRT} {
		_, err := ForFamily(family, host)
		assert.NoError(t, err, "family %s", family)
	}
	_, err := ForFamily(models.FamilyOther, host)
	assert.Error(t, err, "unsupported families must be rejected")
}
