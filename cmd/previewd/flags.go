package main

import "time"

// GlobalFlags holds the persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
	// Remote daemon connection
	APIUrl     string
	APITimeout time.Duration
}

// DetectFlags Flag structs to decouple cobra from logic for testing.
type DetectFlags struct {
	Dir string
}

type StartFlags struct {
	Dir  string
	Cmd  string
	Port int
	// Wait polls the state until the server answers or the duration passes.
	Wait     time.Duration
	Interval time.Duration
}

type StatusFlags struct {
	Logs bool
}

type DiagnoseFlags struct {
	Dir  string
	Port int
}

type PackageDirFlags struct {
	Dir string
}

type ServeFlags struct {
	Listen        string
	MetricsListen string
}
