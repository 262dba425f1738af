package main

import "time"

// GlobalFlags holds the persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
	APIUrl     string // when set, commands talk to a running server
	APITimeout time.Duration
	APICACert  string
	APIToken   string
	Insecure   bool
	JSON       bool
}

type AddFlags struct {
	Name        string
	Exe         string
	Args        string
	WorkDir     string
	Category    string
	Description string
	Icon        string
}

type UpdateFlags struct {
	ID string
	AddFlags
	ClearWorkDir bool
}

type LaunchFlags struct {
	ID string
	// Wait keeps a local launch attached until the child exits.
	Wait bool
}

type HistoryFlags struct {
	ID    string
	Limit int
}

type RunningFlags struct {
	ID        string
	Resources bool
}
