package main

// Include GoMLX backends: the pure Go one is always available, XLA is used if its plugin is installed.

import (
	_ "github.com/gomlx/gomlx/backends/simplego"
	_ "github.com/gomlx/gomlx/backends/xla"
)
