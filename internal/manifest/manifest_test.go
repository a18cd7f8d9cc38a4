package manifest

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSType_IsPartclone(t *testing.T) {
	assert.True(t, FSType("partclone").IsPartclone())
	assert.True(t, FSType("partclone.ext4").IsPartclone())
	assert.False(t, FSType("ext4").IsPartclone())
}

func TestFSType_IsFat(t *testing.T) {
	assert.True(t, FSFat.IsFat())
	assert.True(t, FSFatUpper.IsFat())
	assert.False(t, FSExt4.IsFat())
}

func TestPartitionSpec_ResolvedPartitionType(t *testing.T) {
	assert.Equal(t, "0c", (&PartitionSpec{FSType: FSFat}).ResolvedPartitionType())
	assert.Equal(t, "82", (&PartitionSpec{FSType: FSSwap}).ResolvedPartitionType())
	assert.Equal(t, "07", (&PartitionSpec{FSType: FSNTFS}).ResolvedPartitionType())
	assert.Equal(t, "83", (&PartitionSpec{FSType: FSExt4}).ResolvedPartitionType())
	assert.Equal(t, "06", (&PartitionSpec{FSType: FSExt4, PartitionType: "06"}).ResolvedPartitionType())
}

func TestPartitionSpec_AdjustedLabel(t *testing.T) {
	assert.Equal(t, "SHORT", (&PartitionSpec{Label: "SHORT"}).AdjustedLabel())
	assert.Equal(t, "", (&PartitionSpec{Label: "THIS_LABEL_IS_WAY_TOO_LONG_FOR_FAT"}).AdjustedLabel())
}

func TestOSManifest_IsRiscOS(t *testing.T) {
	assert.True(t, (&OSManifest{Name: "RISC OS"}).IsRiscOS())
	assert.True(t, (&OSManifest{Name: "risc os pico"}).IsRiscOS())
	assert.False(t, (&OSManifest{Name: "Raspbian"}).IsRiscOS())
}

func TestOSManifest_Folder(t *testing.T) {
	assert.Equal(t, "Libre_ELEC", (&OSManifest{Name: "Libre ELEC"}).Folder())
}

func TestOSManifest_SupportsModel(t *testing.T) {
	unconstrained := &OSManifest{}
	assert.True(t, unconstrained.SupportsModel("Raspberry Pi 3 Model B"))

	constrained := &OSManifest{SupportedModels: []string{"Pi 3", "Pi 4"}}
	assert.True(t, constrained.SupportsModel("Raspberry Pi 3 Model B"))
	assert.False(t, constrained.SupportsModel("Raspberry Pi Zero"))
}

func TestOSManifest_ResolveRemote_NoURLsIsNoop(t *testing.T) {
	m := &OSManifest{Name: "Raspbian"}
	calls := 0
	err := m.ResolveRemote(func(url string) ([]byte, error) {
		calls++
		return nil, nil
	})
	require.NoError(t, err)
	assert.Zero(t, calls)
}

func TestOSManifest_ResolveRemote_OverlaysMetadata(t *testing.T) {
	m := &OSManifest{Name: "Raspbian", MetadataURL: "http://h/raspbian/os.json"}
	err := m.ResolveRemote(func(url string) ([]byte, error) {
		assert.Equal(t, "http://h/raspbian/os.json", url)
		return []byte(`{"description":"A Debian port","version":"11","releaseDate":"2023-10-10"}`), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "A Debian port", m.Description)
	assert.Equal(t, "11", m.Version)
	assert.Equal(t, "2023-10-10", m.ReleaseDate)
	assert.Equal(t, "Raspbian", m.Name) // unchanged: metadata omitted "name"
}

func TestOSManifest_ResolveRemote_FetchesScriptURLOnlyWhenNotInline(t *testing.T) {
	m := &OSManifest{Name: "X", PartitionSetupScriptURL: "http://h/setup.sh"}
	err := m.ResolveRemote(func(url string) ([]byte, error) {
		return []byte("#!/bin/sh\n"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("#!/bin/sh\n"), m.PartitionSetupScript)

	inline := &OSManifest{Name: "X", PartitionSetupScriptURL: "http://h/setup.sh", PartitionSetupScript: []byte("inline")}
	calls := 0
	err = inline.ResolveRemote(func(url string) ([]byte, error) {
		calls++
		return []byte("ignored"), nil
	})
	require.NoError(t, err)
	assert.Zero(t, calls)
	assert.Equal(t, []byte("inline"), inline.PartitionSetupScript)
}

func TestOSManifest_ResolveRemote_FetchFailureIsPropagated(t *testing.T) {
	m := &OSManifest{Name: "X", MetadataURL: "http://h/os.json"}
	err := m.ResolveRemote(func(url string) ([]byte, error) {
		return nil, errors.New("boom")
	})
	assert.Error(t, err)
}
