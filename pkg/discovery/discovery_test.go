package discovery_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/balancoor/pkg/discovery"
	"github.com/ethpandaops/balancoor/pkg/model"
)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

func TestFind(t *testing.T) {
	root := t.TempDir()

	for _, dir := range []string{
		"suite_login/tst_valid_user",
		"suite_login/tst_bad_password",
		"suite_login/shared/scripts",
		"nested/suite_cart/tst_checkout",
		"tst_top_level",
	} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, filepath.FromSlash(dir)), 0o755))
	}

	// Files named like test cases are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(root, "suite_login", "tst_notes.txt"), nil, 0o644))

	tests, err := discovery.Find(testLogger(), root)
	require.NoError(t, err)

	assert.Equal(t, []model.TestCase{
		{ID: "nested/suite_cart/tst_checkout", Name: "tst_checkout", Suite: "nested/suite_cart"},
		{ID: "suite_login/tst_bad_password", Name: "tst_bad_password", Suite: "suite_login"},
		{ID: "suite_login/tst_valid_user", Name: "tst_valid_user", Suite: "suite_login"},
		{ID: "tst_top_level", Name: "tst_top_level", Suite: "."},
	}, tests)
}

func TestFind_Empty(t *testing.T) {
	tests, err := discovery.Find(testLogger(), t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, tests)
}

func TestFind_MissingDir(t *testing.T) {
	_, err := discovery.Find(testLogger(), filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrConfiguration)
}
