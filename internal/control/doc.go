// Package control connects operators to a running clean through an
// iteration.Token. Two backends share one command grammar: a YAML control
// file watched with fsnotify, and a readline prompt that opens while the
// run is paused at a major cycle boundary.
package control
