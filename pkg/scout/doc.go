// Package scout implements the scanner half of Casparian Flow: find
// files, hash them, and record what changed. See scout.go for the scan
// cycle and rename-detection logic.
package scout
