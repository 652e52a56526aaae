// +build testing

package build

// DEBUG is true in testing builds, so that Critical and Severe panic instead
// of merely logging — a failed sanity check should fail the test loudly.
const DEBUG = true

// Release identifies the build configuration in effect.
const Release = "testing"
