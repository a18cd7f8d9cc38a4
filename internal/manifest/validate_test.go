package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_MissingName(t *testing.T) {
	m := OSManifest{Bootable: true, Partitions: []PartitionSpec{{FSType: FSExt4, PartitionSizeNominal: 100}}}
	err := m.Validate("Raspberry Pi 3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required field 'name'")
}

func TestValidate_UnsupportedModel(t *testing.T) {
	m := OSManifest{
		Name: "X", Bootable: true, SupportedModels: []string{"Raspberry Pi 4"},
		Partitions: []PartitionSpec{{FSType: FSExt4, PartitionSizeNominal: 100}},
	}
	err := m.Validate("Raspberry Pi 3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not support this board model")
}

func TestValidate_NonBootableNonDataSetRejected(t *testing.T) {
	m := OSManifest{
		Name: "X", Bootable: false,
		Partitions: []PartitionSpec{{FSType: FSExt4, PartitionSizeNominal: 100}},
	}
	err := m.Validate("Raspberry Pi 3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not bootable")
}

func TestValidate_NonBootablePureDataSetAllowed(t *testing.T) {
	m := OSManifest{
		Name: "Data", Bootable: false,
		Partitions: []PartitionSpec{{FSType: FSUnformatted}},
	}
	assert.NoError(t, m.Validate("Raspberry Pi 3"))
}

func TestValidate_TooManyTarballs(t *testing.T) {
	m := OSManifest{
		Name: "X", Bootable: true,
		Tarballs:   []string{"a", "b"},
		Partitions: []PartitionSpec{{FSType: FSExt4, PartitionSizeNominal: 100}},
	}
	err := m.Validate("Raspberry Pi 3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "more tarballs")
}

func TestValidate_AccumulatesAllErrors(t *testing.T) {
	m := OSManifest{}
	err := m.Validate("Raspberry Pi 3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required field 'name'")
	assert.Contains(t, err.Error(), "no partitions")
}

func TestValidate_NoModelConstraintMatchesEverything(t *testing.T) {
	m := OSManifest{
		Name: "X", Bootable: true,
		Partitions: []PartitionSpec{{FSType: FSExt4, PartitionSizeNominal: 100}},
	}
	assert.NoError(t, m.Validate("any board at all"))
}

func TestValidateTarballSuffix(t *testing.T) {
	assert.NoError(t, ValidateTarballSuffix("http://h/image.tar.gz"))
	assert.NoError(t, ValidateTarballSuffix("/local/path/image.xz"))
	assert.Error(t, ValidateTarballSuffix("image.rar"))
}
