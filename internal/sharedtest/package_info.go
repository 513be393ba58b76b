// Package sharedtest provides helper code and test data that may be used by tests in all Flagpole
// packages.
//
// Non-test code should never import this package.
package sharedtest
