// Package report writes scan results.
//
// Writers exist for five formats:
//   - HumanWriter: aligned text for the terminal (default)
//   - JSONWriter: one JSON document per host plus a summary document
//   - MarkdownWriter: GitHub flavored Markdown with tables and a pie chart
//   - CSVWriter: one row per probed port
//   - XMLWriter: a single document with nmap-like element names
//
// Every writer receives hosts as they finish through Write and the whole run
// through WriteSummary, so output streams during long scans.
package report
