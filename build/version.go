package build

// Version is the current version of blockgridd.
const Version = "1.0.0"
