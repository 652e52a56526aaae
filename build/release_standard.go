// +build !testing

package build

// DEBUG is false in standard builds; Critical and Severe log instead of
// panicking.
const DEBUG = false

// Release identifies the build configuration in effect.
const Release = "standard"
