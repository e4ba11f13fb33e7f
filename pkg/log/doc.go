// Package log provides named component loggers on top of the standard
// library logger.
//
// Every line carries the level and the component name:
//
//	2025/01/02 10:11:12.345678 INFO [importer>] indexed 42 projects
//
// Debug output is off by default and can be enabled globally or for single
// components:
//
//	log.SetGlobalDebug(true)
//	log.EnableDebugFor("nestapi")
//	log.EnableDebugList("search,api")
//
// Child loggers carry key=value fields for long lived units of work:
//
//	l := log.ForService("api").With("session", id)
//	l.Infof("client connected")
//
// Tests redirect output with SetOutput and assert on the buffer contents.
package log
