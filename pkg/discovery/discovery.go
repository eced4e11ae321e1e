package discovery

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ethpandaops/balancoor/pkg/model"
	"github.com/sirupsen/logrus"
)

// TestCasePrefix marks a directory as a test case.
const TestCasePrefix = "tst_"

// Find walks root and returns every directory named tst_* as a test case,
// sorted by ID. IDs are root-relative slash paths, so they are stable
// across machines.
func Find(log logrus.FieldLogger, root string) ([]model.TestCase, error) {
	log = log.WithField("component", "discovery")
	log.WithField("dir", root).Debug("Finding test cases")

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("%w: test suites dir: %w", model.ErrConfiguration, err)
	}

	if !info.IsDir() {
		return nil, fmt.Errorf("%w: test suites dir %s is not a directory", model.ErrConfiguration, root)
	}

	var tests []model.TestCase

	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if p == root || !d.IsDir() || !strings.HasPrefix(d.Name(), TestCasePrefix) {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}

		id := filepath.ToSlash(rel)
		suite := path.Dir(id)

		log.WithField("test", id).Debug("Found test case")

		tests = append(tests, model.TestCase{
			ID:    id,
			Name:  d.Name(),
			Suite: suite,
		})

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}

	sort.Slice(tests, func(i, j int) bool { return tests[i].ID < tests[j].ID })

	log.Infof("Found %d test cases", len(tests))

	return tests, nil
}
