package domain_test

import (
	"testing"

	"stagedwell/testutil"
)

func TestDomainHasNoInternalDependencies(t *testing.T) {
	t.Parallel()
	testutil.AssertNoDirectImports(t, ".", testutil.InternalImportForbidden, "domain is shared by hosts and the engine")
	testutil.AssertNoTransitiveDependency(t, "stagedwell/pkg/domain", testutil.InternalImportForbidden, "domain is shared by hosts and the engine")
}
