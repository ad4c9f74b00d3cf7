// Package language links exactly one backend into the binary. The default
// build carries Python; build with -tags haskell for Haskell.
package language
