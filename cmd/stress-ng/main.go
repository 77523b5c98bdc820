package main

import (
	"github.com/nxfs/stress-ng/internal/cli"
	"github.com/nxfs/stress-ng/internal/metrics"
)

func main() {
	metrics.EmitBuildInfo()
	cli.Execute()
}
