// Package main is the bugscope executable.
//
// The binary collects fuzzer-found bug reports from the GitHub issue
// trackers of tracked DBMS projects, stores them in Postgres (or memory),
// and classifies each report by root cause. Tasks run on a worker pool fed
// by a Redis or in-memory queue; a cron schedule enqueues the daily fetch.
//
//	bugscope serve --config config.yaml
//	bugscope fetch
//	bugscope classify --ids 12,13
package main

import "github.com/JakeFAU/bugscope/cmd"

func main() {
	cmd.Execute()
}
