// Package testsupport holds fixtures shared by package tests: temp-dir
// configs, placeholder audio files, and an in-memory engine.
package testsupport
