package oat

import (
	"log"
	"os"
)

// logger is the package's internal diagnostic logger, terse and
// prefix-tagged the way vm/jit.go logs its own internal diagnostics. It
// writes to stderr with no timestamp so deterministic test output stays
// grep-friendly.
var logger = log.New(os.Stderr, "oat: ", 0)

// SetLogOutput is exposed for callers (tests, CLI driver) that want to
// redirect or silence the writer's diagnostics.
func SetLogOutput(l *log.Logger) { logger = l }
