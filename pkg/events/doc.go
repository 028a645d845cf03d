// Package events counts global keyboard and mouse activity between capture
// cycles. Input arrives from the macOS Quartz event tap, a JSON-lines stream
// written by an external hook helper, or a seeded synthetic source.
package events
