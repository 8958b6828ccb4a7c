package tracking_test

import (
	"testing"

	"stagedwell/testutil"
)

func TestTrackingDoesNotImportHosts(t *testing.T) {
	t.Parallel()
	testutil.AssertNoDirectImports(t, ".", testutil.HostImportForbidden, "the engine reaches hosts through domain ports")
	testutil.AssertNoTransitiveDependency(t, "stagedwell/internal/tracking", testutil.HostImportForbidden, "the engine reaches hosts through domain ports")
}
