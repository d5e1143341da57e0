// Package config provides configuration management for cleanloop.
//
// Configuration is loaded from a single directory. The default directory is
// ~/.config/cleanloop; commands accept --config-path to point elsewhere.
//
// # Configuration File
//
// config.yaml is decoded over GetDefaultConfig, so every key is optional:
//
//	iteration:
//	  niter: 1000
//	  cycleniter: 100
//	  loopgain: 0.1
//	  threshold: 0.001
//	  cyclefactor: 1.0
//	  minpsffraction: 0.1
//	  maxpsffraction: 0.8
//	  interactive: false
//	images:
//	  - name: field0
//	    shape: [128, 128]
//	    nterms: 1
//	sync:
//	  workers: 4
//	  timeout: 30s
//	control:
//	  controlFile: /tmp/clean-control.yaml
//	  prompt: true
//	storage:
//	  dir: /var/lib/cleanloop
//
// After decoding, a cycleniter of zero, negative, or above niter is reset to
// niter, and every problem found by Validate is returned together as a
// ConfigurationErrorCollection.
//
// # Storage
//
// Storage persists named YAML documents under {dir}/{entityType}/{name}.yaml.
// The summary package uses it with entity type "runs".
package config
